package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "obexd"
# tcp | rfcomm | irda | pipe
transport = "tcp"
# tcp: host:port (port 0 picks one); rfcomm: channel (0 picks one); irda: IrCOMM device path
addr = "127.0.0.1:650"
max_packet_size = 4096
response_timeout = "30s"
root = "./inbox"
read_only = false
allow_create = true
max_object_bytes = 0
# required token; the operator presents it with --token or OBEX_TOKEN
token = ""
allow = ["tcp://127.0.0.1:*"]

[admin]
enabled = true
addr = "127.0.0.1:9650"
cors_origins = ["http://localhost:3000"]
`

const clientTemplate = `transport = "tcp"
addr = "127.0.0.1:650"
max_packet_size = 4096
connect_timeout = "5s"
response_timeout = "30s"
# required token; presented with --token or OBEX_TOKEN
token = ""
# Folder Browsing service UUID
target = "F9EC7BC4-953C-11D2-984E-525400DC9E09"

[retry]
max_attempts = 1
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
