package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aaronkirkham/youtube-sync/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 8888,
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	redirectURL = configVar[string]{
		envKey:       "SERVER_REDIRECT_URL",
		flagKey:      "redirect-url",
		defaultValue: "http://kirkh.am/youtube/",
	}
	recoveryTimeout = configVar[time.Duration]{
		envKey:       "SERVER_RECOVERY_TIMEOUT",
		flagKey:      "recovery-timeout",
		defaultValue: 3500 * time.Millisecond,
	}
	roomIDLength = configVar[int]{
		envKey:       "SERVER_ROOM_ID_LENGTH",
		flagKey:      "room-id-length",
		defaultValue: 7,
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(redirectURL.flagKey, redirectURL.defaultValue, "Where to send plain http visitors")
	pflag.Duration(recoveryTimeout.flagKey, recoveryTimeout.defaultValue, "Delay before skipping a stuck video")
	pflag.Int(roomIDLength.flagKey, roomIDLength.defaultValue, "Length of generated room ids")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(redirectURL.flagKey, redirectURL.envKey)
	viper.BindEnv(recoveryTimeout.flagKey, recoveryTimeout.envKey)
	viper.BindEnv(roomIDLength.flagKey, roomIDLength.envKey)

	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(redirectURL.flagKey, redirectURL.defaultValue)
	viper.SetDefault(recoveryTimeout.flagKey, recoveryTimeout.defaultValue)
	viper.SetDefault(roomIDLength.flagKey, roomIDLength.defaultValue)

	return &app.AppConfig{
		Host:            viper.GetString(host.flagKey),
		Port:            viper.GetInt(port.flagKey),
		LogLevel:        viper.GetString(logLevel.flagKey),
		RedirectURL:     viper.GetString(redirectURL.flagKey),
		RecoveryTimeout: viper.GetDuration(recoveryTimeout.flagKey),
		RoomIDLength:    viper.GetInt(roomIDLength.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
