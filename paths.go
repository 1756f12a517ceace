/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Common paths
 */

package ippclient

const (
	// PathConfDir defines path to configuration directory
	PathConfDir = "/etc/ipp-client"

	// PathLogDir defines path to log directory
	PathLogDir = "/var/log/ipp-client"

	// PathLogFile defines path to the main log file
	PathLogFile = PathLogDir + "/main.log"
)
