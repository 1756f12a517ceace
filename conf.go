/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Program configuration
 */

package ippclient

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const (
	// ConfFileName defines a name of ipp-client configuration file
	ConfFileName = "ipp-client.conf"

	// confPrinterSection is the prefix of per-printer sections:
	//
	//   [printer "ipp://192.168.1.*"]
	confPrinterSection = "printer"
)

// Configuration represents a program configuration
type Configuration struct {
	ConnectTimeout    time.Duration // TCP connect timeout
	ReadTimeout       time.Duration // Response read timeout
	JobPollInterval   time.Duration // Job state polling interval
	JobWaitTimeout    time.Duration // Max time to wait for job termination
	UserName          string        // requesting-user-name
	SpoolDir          string        // Directory for staged documents
	EventLease        time.Duration // Requested subscription lease
	EventPollInterval time.Duration // Default Get-Notifications interval
	EventMaxRetries   uint          // Retries of failed Get-Notifications
	LogConsole        LogLevel      // Console LogLevel mask
	LogFile           LogLevel      // Log file LogLevel mask
	LogMaxFileSize    int64         // Maximum log file size
	LogMaxBackupFiles uint          // Count of files preserved during rotation
	Quirks            QuirksSet     // Per-printer quirks
}

// DefaultConfiguration returns configuration with all
// parameters set to their default values
func DefaultConfiguration() *Configuration {
	return &Configuration{
		ConnectTimeout:    DefaultConnectTimeout,
		ReadTimeout:       DefaultReadTimeout,
		JobPollInterval:   DefaultJobPollInterval,
		JobWaitTimeout:    DefaultJobWaitTimeout,
		UserName:          DefaultUserName,
		EventLease:        DefaultEventLease,
		EventPollInterval: DefaultEventPollInterval,
		EventMaxRetries:   DefaultEventMaxRetries,
		LogConsole:        LogError | LogInfo,
		LogFile:           0,
		LogMaxFileSize:    256 * 1024,
		LogMaxBackupFiles: 5,
	}
}

// ConfLoad loads the program configuration from the
// standard locations: system configuration directory
// and the directory of the executable file. Missed
// files are silently ignored.
func ConfLoad() (*Configuration, error) {
	// Obtain path to executable directory
	exepath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("conf: %s", err)
	}

	exepath = filepath.Dir(exepath)

	return ConfLoadFiles(
		filepath.Join(PathConfDir, ConfFileName),
		filepath.Join(exepath, ConfFileName),
	)
}

// ConfLoadFiles loads configuration from the specified files.
// Files are loaded in order, so the later file overrides
// parameters, set by the former one
func ConfLoadFiles(files ...string) (*Configuration, error) {
	conf := DefaultConfiguration()
	loadOrder := 0

	for _, file := range files {
		err := conf.load(file, &loadOrder)
		if err != nil {
			return nil, fmt.Errorf("conf: %s", err)
		}
	}

	return conf, nil
}

// load loads single configuration file
func (conf *Configuration) load(path string, loadOrder *int) error {
	// Loose mode ignores missed files
	inifile, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		return err
	}

	for _, section := range inifile.Sections() {
		switch name := section.Name(); {
		case name == "network":
			err = conf.loadNetwork(section)
		case name == "jobs":
			err = conf.loadJobs(section)
		case name == "events":
			err = conf.loadEvents(section)
		case name == "logging":
			err = conf.loadLogging(section)
		case confIsPrinterSection(name):
			err = conf.loadPrinter(path, section, loadOrder)
		}

		if err != nil {
			return fmt.Errorf("%s: [%s] %s", path, section.Name(), err)
		}
	}

	return nil
}

// loadNetwork loads the [network] section
func (conf *Configuration) loadNetwork(section *ini.Section) error {
	var err error

	for _, key := range section.Keys() {
		switch key.Name() {
		case "connect-timeout":
			err = confLoadDurationKey(&conf.ConnectTimeout, key)
		case "read-timeout":
			err = confLoadDurationKey(&conf.ReadTimeout, key)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// loadJobs loads the [jobs] section
func (conf *Configuration) loadJobs(section *ini.Section) error {
	var err error

	for _, key := range section.Keys() {
		switch key.Name() {
		case "poll-interval":
			err = confLoadDurationKey(&conf.JobPollInterval, key)
		case "wait-timeout":
			err = confLoadDurationKey(&conf.JobWaitTimeout, key)
		case "user-name":
			err = confLoadStringKey(&conf.UserName, key)
		case "spool-dir":
			conf.SpoolDir = key.String()
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// loadEvents loads the [events] section
func (conf *Configuration) loadEvents(section *ini.Section) error {
	var err error

	for _, key := range section.Keys() {
		switch key.Name() {
		case "lease":
			err = confLoadDurationKey(&conf.EventLease, key)
		case "poll-interval":
			err = confLoadDurationKey(&conf.EventPollInterval, key)
		case "max-retries":
			err = confLoadUintKeyRange(&conf.EventMaxRetries, key, 0, 100)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// loadLogging loads the [logging] section
func (conf *Configuration) loadLogging(section *ini.Section) error {
	var err error

	for _, key := range section.Keys() {
		switch key.Name() {
		case "console-log":
			err = confLoadLogLevelKey(&conf.LogConsole, key)
		case "file-log":
			err = confLoadLogLevelKey(&conf.LogFile, key)
		case "max-file-size":
			err = confLoadSizeKey(&conf.LogMaxFileSize, key)
		case "max-backup-files":
			err = confLoadUintKey(&conf.LogMaxBackupFiles, key)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// loadPrinter loads the [printer "<uri pattern>"] section
func (conf *Configuration) loadPrinter(path string,
	section *ini.Section, loadOrder *int) error {

	match, err := confPrinterPattern(section.Name())
	if err != nil {
		return err
	}

	origin := fmt.Sprintf("%s [%s]", path, section.Name())

	for _, key := range section.Keys() {
		q, err := NewQuirk(origin, match, key.Name(), key.String(), *loadOrder)
		if err != nil {
			return err
		}

		*loadOrder++
		conf.Quirks.Add(q)
	}

	return nil
}

// confIsPrinterSection tells if section name is the per-printer
// section name. The pattern must be separated by space, so
// sections like [printers] are not matched
func confIsPrinterSection(name string) bool {
	rest := strings.TrimPrefix(name, confPrinterSection)
	if rest == name {
		return false
	}

	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

// confPrinterPattern extracts the URI pattern from the
// per-printer section name
func confPrinterPattern(name string) (string, error) {
	s := strings.TrimSpace(strings.TrimPrefix(name, confPrinterSection))

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == name {
		return "", fmt.Errorf("printer URI pattern missed")
	}

	return s, nil
}

// Create "bad value" error
func confBadValue(key *ini.Key, format string, args ...interface{}) error {
	return fmt.Errorf(key.Name()+": "+format, args...)
}

// Load string key, which must not be empty
func confLoadStringKey(out *string, key *ini.Key) error {
	s := strings.TrimSpace(key.String())
	if s == "" {
		return confBadValue(key, "must not be empty")
	}

	*out = s
	return nil
}

// Load duration key
func confLoadDurationKey(out *time.Duration, key *ini.Key) error {
	v, err := parseDuration(key.String())
	if err != nil {
		return confBadValue(key, "%s", err)
	}

	*out = v
	return nil
}

// Load LogLevel key
func confLoadLogLevelKey(out *LogLevel, key *ini.Key) error {
	var mask LogLevel
	for _, s := range strings.Split(key.String(), ",") {
		s = strings.TrimSpace(s)
		switch s {
		case "", "none":
		case "error":
			mask |= LogError
		case "info":
			mask |= LogInfo | LogError
		case "debug":
			mask |= LogDebug | LogInfo | LogError
		case "trace-ipp":
			mask |= LogTraceIPP | LogDebug | LogInfo | LogError
		case "trace-http":
			mask |= LogTraceHTTP | LogDebug | LogInfo | LogError
		case "all", "trace-all":
			mask |= LogAll
		default:
			return confBadValue(key, "invalid log level %q", s)
		}
	}

	*out = mask
	return nil
}

// Load size key
func confLoadSizeKey(out *int64, key *ini.Key) error {
	units := uint64(1)
	value := key.String()

	if l := len(value); l > 0 {
		switch value[l-1] {
		case 'k', 'K':
			units = 1024
		case 'm', 'M':
			units = 1024 * 1024
		}

		if units != 1 {
			value = value[:l-1]
		}
	}

	sz, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return confBadValue(key, "%q: invalid size", value)
	}

	if sz > uint64(math.MaxInt64/units) {
		return confBadValue(key, "size too large")
	}

	*out = int64(sz * units)
	return nil
}

// Load unsigned integer key
func confLoadUintKey(out *uint, key *ini.Key) error {
	num, err := strconv.ParseUint(key.String(), 10, 0)
	if err != nil {
		return confBadValue(key, "%q: invalid number", key.String())
	}

	*out = uint(num)
	return nil
}

// Load unsigned integer key within the range
func confLoadUintKeyRange(out *uint, key *ini.Key, min, max uint) error {
	var val uint
	err := confLoadUintKey(&val, key)
	if err == nil && (val < min || val > max) {
		err = confBadValue(key, "must be in range %d...%d", min, max)
	}

	if err == nil {
		*out = val
	}

	return err
}
