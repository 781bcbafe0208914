package linker

import (
	"bytes"
	"strings"
)

var utf8Bom = []byte{0xef, 0xbb, 0xbf}

// ParseDirectiveLibraries extracts the /DEFAULTLIB:name values out of a
// .drectve section. Directives start with '/' or '-', values may be
// quoted, the flag name is case-insensitive.
func ParseDirectiveLibraries(contents []byte) []string {
	contents = bytes.TrimPrefix(contents, utf8Bom)

	var libs []string
	data := string(contents)
	for len(data) > 0 {
		data = strings.TrimLeft(data, " \t\r\n\x00")
		if len(data) == 0 {
			break
		}
		if data[0] != '/' && data[0] != '-' {
			// skip stray token
			if i := strings.IndexAny(data, " \t\r\n\x00"); i >= 0 {
				data = data[i:]
				continue
			}
			break
		}
		data = data[1:]

		colon := strings.IndexByte(data, ':')
		sep := strings.IndexAny(data, " \t\r\n\x00")
		if colon < 0 || (sep >= 0 && sep < colon) {
			// flag without a value
			if sep < 0 {
				break
			}
			data = data[sep:]
			continue
		}
		flag := data[:colon]
		data = data[colon+1:]

		var value string
		if len(data) > 0 && data[0] == '"' {
			end := strings.IndexByte(data[1:], '"')
			if end < 0 {
				break
			}
			value = data[1 : 1+end]
			data = data[2+end:]
		} else {
			end := strings.IndexAny(data, " \t\r\n\x00")
			if end < 0 {
				end = len(data)
			}
			value = data[:end]
			data = data[end:]
		}

		if strings.EqualFold(flag, "defaultlib") && value != "" {
			libs = append(libs, value)
		}
	}
	return libs
}
