package huddle

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/putto11262002/huddle/core"
	"github.com/spf13/viper"
)

type Mode string

const (
	DevMode  Mode = "dev"
	ProdMode Mode = "prod"
)

const EnvPrefix = "HUDDLE"

type Config struct {
	// Port is the Port number to listen on. The default is 8080.
	Port int `validate:"required,port"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required"`
	Mode     Mode   `validate:"oneof=dev prod"`
	// AllowedOrigins is a list of origins that are allowed to connect to the server.
	// The default is ["*"].
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"min=1"`
	Log            struct {
		Level  string `validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
		Format string `validate:"oneof=text json"`
	}
	History struct {
		// RoomCapacity bounds the messages kept per room.
		RoomCapacity int `mapstructure:"room_capacity" validate:"min=1"`
		// DMCapacity bounds the messages kept per pair of users.
		DMCapacity int `mapstructure:"dm_capacity" validate:"min=1"`
	}
	WS struct {
		SendBuffer     int           `mapstructure:"send_buffer" validate:"min=1"`
		MaxMessageSize int64         `mapstructure:"max_message_size" validate:"min=1"`
		WriteWait      time.Duration `mapstructure:"write_wait" validate:"min=1ms"`
		PongWait       time.Duration `mapstructure:"pong_wait" validate:"min=1ms"`
		// DefaultRoom is the room of connections made to /ws.
		DefaultRoom string `mapstructure:"default_room" validate:"required,room"`
	}
	TLS struct {
		Crt string `validate:"required_with=Key"`
		Key string `validate:"required_with=Crt"`
	}
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1ms"`
	valid           bool
}

// ManagerConfig returns the websocket transport settings.
func (c *Config) ManagerConfig() core.ManagerConfig {
	return core.ManagerConfig{
		SendBuffer:     c.WS.SendBuffer,
		MaxMessageSize: c.WS.MaxMessageSize,
		WriteWait:      c.WS.WriteWait,
		PongWait:       c.WS.PongWait,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("mode", string(DevMode))
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("history.room_capacity", core.DefaultHistoryCapacity)
	v.SetDefault("history.dm_capacity", core.DefaultHistoryCapacity)
	v.SetDefault("ws.send_buffer", core.DefaultManagerConfig.SendBuffer)
	v.SetDefault("ws.max_message_size", core.DefaultManagerConfig.MaxMessageSize)
	v.SetDefault("ws.write_wait", core.DefaultManagerConfig.WriteWait)
	v.SetDefault("ws.pong_wait", core.DefaultManagerConfig.PongWait)
	v.SetDefault("ws.default_room", "lobby")
	v.SetDefault("tls.crt", "")
	v.SetDefault("tls.key", "")
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// LoadConfig loads the configuration from an optional config.yaml in paths
// and from HUDDLE_ prefixed environment variables.
// Values that fail to decode are left for the validation step to report.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

// FormatValidationErrors renders validation errors as one English sentence per line.
func FormatValidationErrors(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errs.Translate(trans)

	var sb strings.Builder
	for _, k := range slices.Sorted(maps.Keys(translated)) {
		sb.WriteString(translated[k])
		sb.WriteString("\n")
	}
	return sb.String()
}
