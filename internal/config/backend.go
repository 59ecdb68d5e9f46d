package config

// ConfigBackend abstracts where toolbridge settings live on each platform.
// On macOS this is UserDefaults under the com.toolbridge.app domain; on
// Linux and other platforms it is a flat JSON file at
// $XDG_CONFIG_HOME/toolbridge/config.json. Keys are the dotted names from
// the spec table in keys.go (server.port, bridge.origin, ...); secrets
// never pass through this interface, they go to the Keychain.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
