package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type options struct {
	SocketURL  string
	Token      string
	UserID     string
	SessionID  string
	DataPath   string
	Port       int
	ServerURLs []string
	Name       string
	CredKey    string
}

// envKeys are the environment variables read for flags the user did not set.
var envKeys = map[string]string{
	"socket-url": "BENCHCHAT_SOCKET",
	"token":      "BENCHCHAT_TOKEN",
	"user-id":    "BENCHCHAT_USER",
	"server-url": "RELAY",
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("socket-url", "", "phoenix socket mount point, e.g. ws://host/socket (env BENCHCHAT_SOCKET)")
	flags.String("token", "", "socket auth token (env BENCHCHAT_TOKEN)")
	flags.String("user-id", "", "id of the signed-in user (env BENCHCHAT_USER)")
	flags.String("session-id", "", "resume the window state of an earlier session")
	flags.String("data-path", "", "optional directory to persist window state via PebbleDB")
	flags.Int("port", -1, "optional local HTTP port (negative to disable)")
	flags.StringSlice("server-url", nil, "relayserver base URL(s); repeat or comma-separated (env RELAY)")
	flags.String("name", "benchchat", "backend display name")
	flags.String("cred-key", "", "optional credential key to use for the listener (base64 encoded)")
	flags.String("config", "", "optional config file (yaml, toml or json)")
}

// loadOptions resolves every setting by flag, then environment, then
// config file, then the flag default.
func loadOptions(flags *pflag.FlagSet) (options, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return options{}, fmt.Errorf("bind flags: %w", err)
	}
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return options{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return options{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	opts := options{
		SocketURL:  strings.TrimSpace(v.GetString("socket-url")),
		Token:      strings.TrimSpace(v.GetString("token")),
		UserID:     strings.TrimSpace(v.GetString("user-id")),
		SessionID:  strings.TrimSpace(v.GetString("session-id")),
		DataPath:   v.GetString("data-path"),
		Port:       v.GetInt("port"),
		ServerURLs: splitList(v.GetStringSlice("server-url")),
		Name:       v.GetString("name"),
		CredKey:    v.GetString("cred-key"),
	}
	return opts, opts.validate()
}

func (o options) validate() error {
	var errs []error
	if o.SocketURL == "" {
		errs = append(errs, errors.New("socket url required (--socket-url or BENCHCHAT_SOCKET)"))
	}
	if o.Token == "" {
		errs = append(errs, errors.New("token required (--token or BENCHCHAT_TOKEN)"))
	}
	if o.UserID == "" {
		errs = append(errs, errors.New("user id required (--user-id or BENCHCHAT_USER)"))
	}
	if o.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", o.Port))
	}
	return errors.Join(errs...)
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, raw := range in {
		for _, p := range strings.Split(raw, ",") {
			if u := strings.TrimSpace(p); u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}
