/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Printer and job status, formatted as text
 */

package ippclient

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

// StatusFormatPrinter formats printer status as a text
func StatusFormatPrinter(info PrinterInfo) []byte {
	buf := &bytes.Buffer{}

	fmt.Fprintf(buf, "printer %s: %s\n", info.URI, info.State)
	statusField(buf, "name", info.Name)
	statusField(buf, "model", info.MakeAndModel)
	statusField(buf, "location", info.Location)
	statusField(buf, "uuid", info.UUID)
	statusField(buf, "message", info.StateMessage)

	if len(info.StateReasons) > 0 {
		statusField(buf, "reasons", strings.Join(info.StateReasons, ","))
	}

	if len(info.Formats) > 0 {
		statusField(buf, "formats", strings.Join(info.Formats, ","))
	}

	buf.WriteString("markers:")
	buf.Write(StatusFormatMarkers(info.Markers))

	return buf.Bytes()
}

// StatusFormatMarkers formats markers as a text
func StatusFormatMarkers(markers []Marker) []byte {
	buf := &bytes.Buffer{}

	if len(markers) == 0 {
		buf.WriteString(" not found\n")
		return buf.Bytes()
	}

	buf.WriteString("\n")
	fmt.Fprintf(buf, " Num  Level    Color    Name\n")
	for i, m := range markers {
		level := "unknown"
		if pct, ok := m.LevelPercent(); ok {
			level = fmt.Sprintf("%d%%", pct)
		}

		fmt.Fprintf(buf, " %3d. %-8s %-8s %q\n", i+1, level, m.Color, m.Name)
	}

	return buf.Bytes()
}

// StatusFormatJobs formats list of jobs as a text. Jobs are
// sorted by ID
func StatusFormatJobs(jobs []JobInfo) []byte {
	buf := &bytes.Buffer{}

	jobs = append([]JobInfo(nil), jobs...)
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})

	buf.WriteString("jobs:")
	if len(jobs) == 0 {
		buf.WriteString(" not found\n")
		return buf.Bytes()
	}

	buf.WriteString("\n")
	fmt.Fprintf(buf, " Num  ID     State               User         Name\n")
	for i, job := range jobs {
		fmt.Fprintf(buf, " %3d. %-6d %-19s %-12s %q\n",
			i+1, job.ID, job.State, job.User, job.Name)

		if job.StateMessage != "" {
			fmt.Fprintf(buf, "      message: %s\n", job.StateMessage)
		}
	}

	return buf.Bytes()
}

// StatusFormatMedia formats list of media as a text
func StatusFormatMedia(media []Media) []byte {
	buf := &bytes.Buffer{}

	buf.WriteString("media:")
	if len(media) == 0 {
		buf.WriteString(" not found\n")
		return buf.Bytes()
	}

	buf.WriteString("\n")
	for i, m := range media {
		fmt.Fprintf(buf, " %3d. %s\n", i+1, m)
	}

	return buf.Bytes()
}

// StatusFormatEvent formats event notification as a single line
func StatusFormatEvent(evnt Event) string {
	s := fmt.Sprintf("%s #%d %s", evnt.Time.Format(time.RFC3339),
		evnt.SequenceNumber, evnt.Event)

	if evnt.PrinterState != PrinterUnknown {
		s += " printer-state=" + evnt.PrinterState.String()
	}

	if evnt.JobID != 0 {
		s += fmt.Sprintf(" job=%d", evnt.JobID)
		if evnt.JobState != JobUnknown {
			s += " job-state=" + evnt.JobState.String()
		}
	}

	if evnt.Text != "" {
		s += fmt.Sprintf(" %q", evnt.Text)
	}

	return s
}

// statusField writes "  name: value" line, if value is not empty
func statusField(buf *bytes.Buffer, name, value string) {
	if value != "" {
		fmt.Fprintf(buf, "  %s: %s\n", name, value)
	}
}
