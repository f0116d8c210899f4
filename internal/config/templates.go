package config

import (
	"fmt"
	"os"
)

func Template() string {
	return defaultTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0o600)
}

const defaultTemplate = `[log]
level = "info"
timestamp = true
no_color = false

[codec]
# Reject messages that omit a non-optional attribute.
strict = false
max_pad_bytes = 65536
pool_slots = 16
pool_fields = 16
pool_slab_bytes = 4096

# Per message id, how many leading attributes must be present.
[codec.min_attributes]
"0x0001" = 3

[session]
queue_depth = 64
max_in_flight = 32
complete_on_send = true
backoff_initial = "10ms"
backoff_max = "500ms"
backoff_multiplier = 2.0
backoff_jitter = true

[frame]
max_payload_bytes = 65536

[dispatch]
max_handlers = 256

[abi]
local = "1.5.0"
# Minors of the local major that the host may step down to.
whitelist = [4, 3]
`
