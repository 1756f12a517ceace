/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * The main function
 */

package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	ippclient "github.com/OpenPrinting/ipp-client"
	"gopkg.in/yaml.v3"
)

const usageText = `Usage:
    %s mode [options] printer-uri [arguments]

Modes are:
    attrs                 - print printer attributes and markers
    markers               - print printer markers (toner, ink etc)
    print    FILE|URL     - print document, using Print-Job
    submit   FILE|URL     - print document, using Create-Job and
                            Send-Document, and wait for completion
    jobs                  - list printer jobs
    job      ID           - print job status
    hold     ID           - hold the job
    release  ID           - release the held job
    cancel   ID           - cancel the job
    fetch    ID           - fetch documents of the job
    pause                 - pause the printer
    resume                - resume the printer
    identify              - identify the printer (beep, blink etc)
    subscribe             - subscribe to printer events and print them
    media    SIZE         - check media of the given size (A4, 4x6,
                            iso_a4_210x297mm, 100x150mm, ...)
    check                 - check configuration and exit

Options are
    -o yaml|text          - output format (default is text)
    -name NAME            - job name for print and submit
    -media SIZE           - media for print and submit
    -copies N             - number of copies for print and submit
    -which WHICH          - jobs to list: all, completed, not-completed
    -lease MINUTES        - subscription lease (default from configuration)
    -count N              - exit after N events
    -refresh              - refresh printer attributes for media check
    -out DIR              - directory for fetched documents
    -debug                - enable debug logging on console
`

// RunMode represents the program run mode
type RunMode int

// Run modes
const (
	RunDefault RunMode = iota
	RunAttrs
	RunMarkers
	RunPrint
	RunSubmit
	RunJobs
	RunJob
	RunHold
	RunRelease
	RunCancel
	RunFetch
	RunPause
	RunResume
	RunIdentify
	RunSubscribe
	RunMedia
	RunCheck
)

// runModes maps mode names to RunMode and count of
// positional arguments after printer URI
var runModes = map[string]struct {
	mode RunMode
	args int
}{
	"attrs":     {RunAttrs, 0},
	"markers":   {RunMarkers, 0},
	"print":     {RunPrint, 1},
	"submit":    {RunSubmit, 1},
	"jobs":      {RunJobs, 0},
	"job":       {RunJob, 1},
	"hold":      {RunHold, 1},
	"release":   {RunRelease, 1},
	"cancel":    {RunCancel, 1},
	"fetch":     {RunFetch, 1},
	"pause":     {RunPause, 0},
	"resume":    {RunResume, 0},
	"identify":  {RunIdentify, 0},
	"sound":     {RunIdentify, 0},
	"subscribe": {RunSubscribe, 0},
	"media":     {RunMedia, 1},
	"check":     {RunCheck, 0},
}

// String returns RunMode name
func (m RunMode) String() string {
	for name, mode := range runModes {
		if mode.mode == m && name != "sound" {
			return name
		}
	}

	return fmt.Sprintf("unknown (%d)", int(m))
}

// RunParameters represents the program run parameters
type RunParameters struct {
	Mode    RunMode                // Run mode
	Name    string                 // Mode name, as specified
	URI     string                 // Printer URI
	Args    []string               // Mode arguments
	YAML    bool                   // Output in YAML
	JobName string                 // Job name
	Print   ippclient.PrintOptions // Print options
	Which   ippclient.WhichJobs    // Jobs to list
	Lease   int                    // Lease in minutes, -1 for default
	Count   int                    // Max events, 0 for unlimited
	Refresh bool                   // Refresh snapshot for media check
	OutDir  string                 // Directory for fetched documents
	Debug   bool                   // Debug logging
}

// usage prints detailed usage and exits
func usage() {
	fmt.Printf(usageText, os.Args[0])
	os.Exit(0)
}

// usageError prints usage error and exits
func usageError(format string, args ...interface{}) {
	if format != "" {
		fmt.Printf(format+"\n", args...)
	}

	fmt.Printf("Try %s -h for more information\n", os.Args[0])
	os.Exit(1)
}

// parseArgv parses program parameters. In a case of usage error,
// it prints a error message and exits
func parseArgv() (params RunParameters) {
	params.Lease = -1
	params.OutDir = "."

	argv := os.Args[1:]
	var positional []string

	// optArg fetches option argument
	optArg := func(i *int) string {
		if *i+1 >= len(argv) {
			usageError("Option %s requires argument", argv[*i])
		}
		*i++
		return argv[*i]
	}

	// optInt fetches non-negative integer option argument
	optInt := func(i *int) int {
		opt := argv[*i]
		s := optArg(i)
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			usageError("Option %s: invalid argument %q", opt, s)
		}
		return v
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch arg {
		case "-h", "-help", "--help":
			usage()
		case "-o":
			switch s := optArg(&i); s {
			case "yaml":
				params.YAML = true
			case "text":
				params.YAML = false
			default:
				usageError("Invalid output format %q", s)
			}
		case "-name":
			params.JobName = optArg(&i)
		case "-media":
			params.Print.Media = optArg(&i)
		case "-copies":
			params.Print.Copies = optInt(&i)
		case "-which":
			which, err := ippclient.ParseWhichJobs(optArg(&i))
			if err != nil {
				usageError("%s", err)
			}
			params.Which = which
		case "-lease":
			params.Lease = optInt(&i)
		case "-count":
			params.Count = optInt(&i)
		case "-refresh":
			params.Refresh = true
		case "-out":
			params.OutDir = optArg(&i)
		case "-debug":
			params.Debug = true
		default:
			if len(arg) > 1 && arg[0] == '-' {
				usageError("Invalid argument %s", arg)
			}
			positional = append(positional, arg)
		}
	}

	if len(positional) == 0 {
		usageError("Mode is not specified")
	}

	params.Name = positional[0]
	mode, ok := runModes[params.Name]
	if !ok {
		usageError("Invalid mode %s", params.Name)
	}
	params.Mode = mode.mode
	positional = positional[1:]

	if params.Mode == RunCheck {
		if len(positional) != 0 {
			usageError("Too many arguments")
		}
		return
	}

	switch {
	case len(positional) == 0:
		usageError("Printer URI is not specified")
	case len(positional) < 1+mode.args:
		usageError("Not enough arguments for %s", params.Name)
	case len(positional) > 1+mode.args:
		usageError("Too many arguments for %s", params.Name)
	}

	params.URI = positional[0]
	params.Args = positional[1:]

	return
}

// output writes the result in the requested format. text
// is used for text format; if nil, result is printed with %v
func output(params RunParameters, result interface{}, text []byte) {
	if params.YAML {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		err := enc.Encode(result)
		enc.Close()
		check(err)
		return
	}

	if text == nil {
		text = []byte(fmt.Sprintf("%v\n", result))
	}

	os.Stdout.Write(text)
}

// check exits with error message, if err is not nil
func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		if kind, ok := ippclient.ErrorKindOf(err); ok {
			fmt.Fprintf(os.Stderr, "error kind: %s\n", kind)
		}
		os.Exit(1)
	}
}

// jobID parses job ID argument
func jobID(s string) int {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		usageError("Invalid job ID %q", s)
	}
	return id
}

// The main function
func main() {
	// Parse arguments
	params := parseArgv()

	// Load configuration file
	conf, err := ippclient.ConfLoad()
	check(err)

	if params.Mode == RunCheck {
		fmt.Printf("Configuration files: OK\n")
		fmt.Printf("Printer quirks: %d\n", len(conf.Quirks))
		os.Exit(0)
	}

	// Setup logging
	levels := conf.LogConsole
	if params.Debug {
		levels |= ippclient.LogDebug
	}

	log := ippclient.NewConsoleLogger(levels)
	if conf.LogFile != 0 {
		os.MkdirAll(ippclient.PathLogDir, 0755)
		log = ippclient.NewFileLogger(ippclient.PathLogFile,
			conf.LogFile, conf.LogMaxFileSize, conf.LogMaxBackupFiles)
	}
	defer log.Close()

	// Create client and bridge
	client := ippclient.NewClient(ippclient.Options{Conf: conf, Log: log})
	defer client.Close()

	bridge := ippclient.NewBridge(client)
	defer bridge.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	wait := func(p *ippclient.Promise) interface{} {
		v, err := p.Wait(ctx)
		check(err)
		return v
	}

	uri := params.URI
	jobName := params.JobName
	if jobName == "" && len(params.Args) > 0 {
		jobName = filepath.Base(params.Args[0])
	}

	switch params.Mode {
	case RunAttrs:
		attrs := wait(bridge.GetPrinterAttributes(uri)).(ippclient.PrinterAttributes)
		output(params, attrs, ippclient.StatusFormatPrinter(attrs.Info))

	case RunMarkers:
		markers := wait(bridge.GetPrinterMarkers(uri)).([]ippclient.Marker)
		output(params, markers, ippclient.StatusFormatMarkers(markers))

	case RunPrint:
		info := wait(bridge.PrintJob(uri, jobName, params.Args[0],
			params.Print)).(ippclient.JobInfo)
		output(params, info, ippclient.StatusFormatJobs([]ippclient.JobInfo{info}))

	case RunSubmit:
		info := wait(bridge.CreateJobAndSendDocument(uri, jobName,
			params.Args[0], params.Print)).(ippclient.JobInfo)
		output(params, info, ippclient.StatusFormatJobs([]ippclient.JobInfo{info}))

	case RunJobs:
		jobs := wait(bridge.ListJobs(uri, params.Which)).([]ippclient.JobInfo)
		output(params, jobs, ippclient.StatusFormatJobs(jobs))

	case RunJob:
		info := wait(bridge.GetJob(uri, jobID(params.Args[0]))).(ippclient.JobInfo)
		output(params, info, ippclient.StatusFormatJobs([]ippclient.JobInfo{info}))

	case RunHold, RunRelease, RunCancel:
		info := wait(bridge.JobAction(uri, jobID(params.Args[0]),
			params.Name)).(ippclient.JobInfo)
		output(params, info, ippclient.StatusFormatJobs([]ippclient.JobInfo{info}))

	case RunFetch:
		id := jobID(params.Args[0])
		docs := wait(bridge.JobAction(uri, id,
			"fetchDocuments")).([]ippclient.JobDocument)
		saveDocuments(params, id, docs)

	case RunPause, RunResume, RunIdentify:
		msg := wait(bridge.PrinterAction(uri, params.Name)).(string)
		output(params, msg, nil)

	case RunSubscribe:
		subscribe(ctx, params, conf, bridge)

	case RunMedia:
		mediaCheck(params, bridge, wait)
	}
}

// saveDocuments saves fetched job documents into the output directory
func saveDocuments(params RunParameters, id int, docs []ippclient.JobDocument) {
	var saved []string

	for _, doc := range docs {
		ext := ".bin"
		if exts, _ := mime.ExtensionsByType(doc.Format); len(exts) > 0 {
			ext = exts[0]
		}

		name := filepath.Join(params.OutDir,
			fmt.Sprintf("job-%d-doc-%d%s", id, doc.Number, ext))

		err := os.WriteFile(name, doc.Data, 0644)
		check(err)

		saved = append(saved, name)
	}

	text := []byte{}
	for _, name := range saved {
		text = append(text, name...)
		text = append(text, '\n')
	}

	output(params, saved, text)
}

// subscribe subscribes to events and prints them until
// interrupted, or until requested count of events is received
func subscribe(ctx context.Context, params RunParameters,
	conf *ippclient.Configuration, bridge *ippclient.Bridge) {

	lease := int(conf.EventLease.Minutes())
	if params.Lease >= 0 {
		lease = params.Lease
	}

	received := 0
	handler := func(evnt ippclient.Event) bool {
		if params.YAML {
			output(params, []ippclient.Event{evnt}, nil)
		} else {
			fmt.Println(ippclient.StatusFormatEvent(evnt))
		}

		received++
		return params.Count == 0 || received < params.Count
	}

	v, err := bridge.SubscribeToEvents(params.URI, lease, handler).Wait(ctx)
	check(err)

	poller := v.(*ippclient.Poller)
	sub := poller.Subscription()
	fmt.Fprintf(os.Stderr, "subscription %d, lease %s\n", sub.ID, sub.Lease)

	select {
	case <-poller.Done():
	case <-ctx.Done():
	}
}

// mediaCheck runs all media queries for the given size
func mediaCheck(params RunParameters, bridge *ippclient.Bridge,
	wait func(*ippclient.Promise) interface{}) {

	uri, size := params.URI, params.Args[0]

	type mediaResult struct {
		Size      string           `yaml:"size"`
		Media     *ippclient.Media `yaml:"media,omitempty"`
		Supported bool             `yaml:"supported"`
		Ready     bool             `yaml:"ready"`
		Sources   []string         `yaml:"sources"`
	}

	res := mediaResult{Size: size}

	// The first query fetches snapshot, if requested; the
	// rest use the same snapshot
	v, err := bridge.FindMediaBySize(uri, size, params.Refresh).
		Wait(context.Background())
	if err == nil {
		m := v.(ippclient.Media)
		res.Media = &m
	} else if kind, _ := ippclient.ErrorKindOf(err); kind != ippclient.KindUnsupported {
		check(err)
	}

	res.Supported = wait(bridge.IsMediaSizeSupported(uri, size, false)).(bool)
	res.Ready = wait(bridge.IsMediaSizeReady(uri, size, false)).(bool)
	res.Sources = wait(bridge.SourcesOfMediaSizeReady(uri, size, false)).([]string)

	text := fmt.Sprintf("size: %s\n", size)
	if res.Media != nil {
		text += fmt.Sprintf("media: %s\n", res.Media)
	}
	text += fmt.Sprintf("supported: %v\nready: %v\nsources: %v\n",
		res.Supported, res.Ready, res.Sources)

	output(params, res, []byte(text))
}
