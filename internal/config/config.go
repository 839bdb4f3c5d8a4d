// Package config reads command line flags with YALIVE_* environment
// fallbacks.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

const envPrefix = "YALIVE_"

type Log struct {
	Level  string
	Format string
}

type Server struct {
	Addr string

	LiveKitURL    string
	LiveKitKey    string
	LiveKitSecret string
	TokenTTL      time.Duration

	Storage string
	DSN     string

	Log Log
}

type Client struct {
	APIURL string
	WSURL  string

	UserID string
	Name   string
	Avatar string

	MediaURL string

	RingTimeout    time.Duration
	CloseDelay     time.Duration
	NoticeThrottle time.Duration
	RequestTimeout time.Duration

	AutoAccept bool
	Dial       string
	DialRoom   string
	Watch      string
	Stream     string
	Broadcast  string

	Log Log
}

func logFlags(fs *flag.FlagSet, l *Log) {
	fs.StringVar(&l.Level, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&l.Format, "log-format", "console", "Log format (console or json)")
}

// LoadServer parses the server flags from args.
func LoadServer(args []string) (Server, error) {
	var c Server
	fs := flag.NewFlagSet("yalive-server", flag.ContinueOnError)
	fs.StringVarP(&c.Addr, "addr", "a", ":8080", "Listen address")
	fs.StringVar(&c.LiveKitURL, "livekit-url", "ws://localhost:7880", "LiveKit server URL handed to clients")
	fs.StringVar(&c.LiveKitKey, "livekit-key", "devkey", "LiveKit API key")
	fs.StringVar(&c.LiveKitSecret, "livekit-secret", "", "LiveKit API secret")
	fs.DurationVar(&c.TokenTTL, "token-ttl", time.Hour, "Lifetime of issued media tokens")
	fs.StringVar(&c.Storage, "storage", "memory", "Storage driver (memory or sqlite)")
	fs.StringVar(&c.DSN, "dsn", "yalive.db", "SQLite database path")
	logFlags(fs, &c.Log)

	if err := parse(fs, args); err != nil {
		return Server{}, err
	}
	switch c.Storage {
	case "memory", "sqlite":
	default:
		return Server{}, errors.Errorf("unknown storage driver %q", c.Storage)
	}
	if c.LiveKitSecret == "" {
		return Server{}, errors.New("--livekit-secret is required")
	}
	return c, nil
}

// LoadClient parses the client flags from args.
func LoadClient(args []string) (Client, error) {
	var c Client
	fs := flag.NewFlagSet("yalive-client", flag.ContinueOnError)
	fs.StringVar(&c.APIURL, "api", "http://localhost:8080", "Signaling server REST base URL")
	fs.StringVar(&c.WSURL, "ws", "", "Push channel URL (default: derived from --api)")
	fs.StringVarP(&c.UserID, "user", "u", "", "User id to sign in as")
	fs.StringVarP(&c.Name, "name", "n", "", "Display name")
	fs.StringVar(&c.Avatar, "avatar", "", "Avatar URL")
	fs.StringVar(&c.MediaURL, "media-url", "ws://localhost:7880", "Media room server URL")
	fs.DurationVar(&c.RingTimeout, "ring-timeout", 60*time.Second, "Time before an unanswered call is missed")
	fs.DurationVar(&c.CloseDelay, "close-delay", 1500*time.Millisecond, "Delay before the call window closes after a reject")
	fs.DurationVar(&c.NoticeThrottle, "notice-throttle", 2000*time.Millisecond, "Minimum gap between chat settings notices")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", 10*time.Second, "REST request timeout")
	fs.BoolVar(&c.AutoAccept, "auto-accept", false, "Accept incoming calls")
	fs.StringVar(&c.Dial, "dial", "", "User id to call")
	fs.StringVar(&c.DialRoom, "room", "", "Room for --dial (default: a new room)")
	fs.StringVar(&c.Watch, "watch", "", "Host user id whose stream to watch")
	fs.StringVar(&c.Stream, "stream", "", "Room id of the stream for --watch")
	fs.StringVar(&c.Broadcast, "broadcast", "", "Create a stream with this title and go live")
	logFlags(fs, &c.Log)

	if err := parse(fs, args); err != nil {
		return Client{}, err
	}
	if c.UserID == "" {
		return Client{}, errors.New("--user is required")
	}
	if c.Watch != "" && c.Stream == "" {
		return Client{}, errors.New("--watch needs --stream")
	}
	if c.Name == "" {
		c.Name = c.UserID
	}
	if c.WSURL == "" {
		c.WSURL = strings.Replace(strings.TrimSuffix(c.APIURL, "/"), "http", "ws", 1) + "/ws"
	}
	return c, nil
}

// parse applies environment fallbacks before args, so flags win.
func parse(fs *flag.FlagSet, args []string) error {
	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil {
			return
		}
		v, ok := os.LookupEnv(EnvName(f.Name))
		if !ok {
			return
		}
		if e := fs.Set(f.Name, v); e != nil {
			err = errors.Wrapf(e, "invalid %s", EnvName(f.Name))
		}
	})
	if err != nil {
		return err
	}
	return fs.Parse(args)
}

// EnvName maps a flag name to its environment variable: log-level becomes
// YALIVE_LOG_LEVEL.
func EnvName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// Logger builds the process logger.
func (l Log) Logger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		return zerolog.Logger{}, errors.Wrapf(err, "log level %q", l.Level)
	}
	var logger zerolog.Logger
	switch l.Format {
	case "json":
		logger = zerolog.New(os.Stdout)
	case "console", "":
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	default:
		return zerolog.Logger{}, errors.Errorf("unknown log format %q", l.Format)
	}
	return logger.Level(level).With().Timestamp().Caller().Logger(), nil
}
