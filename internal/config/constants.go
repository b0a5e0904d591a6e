package config

// Application info
const (
	AppName    = "healthcli"
	AppVersion = "1.0.0"
)
