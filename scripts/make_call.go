// Command make_call places an outbound test call using the transport
// settings from a voxbridge config file.
//
//	go run scripts/make_call.go -config=voxbridge.yaml -to=+15551234567 -from=+15559876543
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/voxbridge/voxbridge/pkg/configutil"
	twiliotransport "github.com/voxbridge/voxbridge/pkg/transport/twilio"
)

type transportConfig struct {
	Transport struct {
		Provider string         `mapstructure:"provider"`
		Settings map[string]any `mapstructure:"settings"`
	} `mapstructure:"transport"`
	Outbound struct {
		To   string `mapstructure:"to"`
		From string `mapstructure:"from"`
	} `mapstructure:"outbound"`
}

func main() {
	configPath := flag.String("config", "voxbridge.yaml", "")
	to := flag.String("to", "", "")
	from := flag.String("from", "", "")
	voiceURL := flag.String("voice_url", "", "")
	flag.Parse()

	cfg, err := loadTransportConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if *to == "" {
		*to = cfg.Outbound.To
	}
	if *from == "" {
		*from = cfg.Outbound.From
	}
	if *to == "" || *from == "" {
		fmt.Println("usage: make_call -to=+123 -from=+456 [-config=...]")
		os.Exit(1)
	}

	var settings twiliotransport.Config
	if err := configutil.DecodeSettings(cfg.Transport.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}

	dialer := twiliotransport.NewDialer(settings)
	callSID, err := dialer.Dial(context.Background(), *to, *from, *voiceURL)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}

func loadTransportConfig(path string) (transportConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return transportConfig{}, err
	}
	var cfg transportConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return transportConfig{}, err
	}
	for k, val := range cfg.Transport.Settings {
		if s, ok := val.(string); ok {
			cfg.Transport.Settings[k] = os.ExpandEnv(s)
		}
	}
	return cfg, nil
}
