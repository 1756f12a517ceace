/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Configuration constants
 */

package ippclient

import (
	"time"
)

const (
	// IppPort is the default TCP port for ipp:// and ipps:// URIs
	IppPort = 631

	// DefaultConnectTimeout specifies how much time to wait for
	// TCP connection (and TLS handshake) to the printer
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadTimeout specifies how much time to wait for
	// the printer response, and for each subsequent read
	// of the response body
	DefaultReadTimeout = 30 * time.Second

	// DefaultJobPollInterval specifies the interval between
	// Get-Job-Attributes requests while waiting for job termination
	DefaultJobPollInterval = 1 * time.Second

	// DefaultJobWaitTimeout bounds waiting for job termination
	DefaultJobWaitTimeout = 5 * time.Minute

	// DefaultEventLease specifies requested subscription lease
	DefaultEventLease = 5 * time.Minute

	// DefaultEventPollInterval specifies the interval between
	// Get-Notifications requests, if printer doesn't suggest one
	DefaultEventPollInterval = 5 * time.Second

	// DefaultEventMaxRetries specifies how many consecutive failed
	// Get-Notifications requests are tolerated
	DefaultEventMaxRetries = 3

	// EventRetryMaxDelay bounds back-off delay between retries
	EventRetryMaxDelay = 30 * time.Second

	// DefaultUserName is used as requesting-user-name, if not configured
	DefaultUserName = "anonymous"

	// DocumentFormatAuto is the document-format that lets the
	// printer to detect format on its own
	DocumentFormatAuto = "application/octet-stream"

	// Values of attributes-charset and attributes-natural-language
	// sent with every request
	ippCharset  = "utf-8"
	ippLanguage = "en-US"
)
