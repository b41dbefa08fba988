package config

import "time"

type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway" json:"gateway"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp" json:"whatsapp"`
	Voiceflow VoiceflowConfig `yaml:"voiceflow" json:"voiceflow"`
	Dispatch  DispatchConfig  `yaml:"dispatch" json:"dispatch"`
	Sessions  SessionsConfig  `yaml:"sessions" json:"sessions"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

type GatewayConfig struct {
	Port int        `yaml:"port" json:"port"`
	Auth AuthConfig `yaml:"auth" json:"auth"` // guards /api and /ws; empty token disables auth
}

type AuthConfig struct {
	Token string `yaml:"token" json:"token"`
}

type WhatsAppConfig struct {
	VerifyToken string        `yaml:"verifyToken" json:"verifyToken"`
	Version     string        `yaml:"version" json:"version"` // Graph API version, e.g. v17.0
	Token       string        `yaml:"token" json:"token"`
	GraphURL    string        `yaml:"graphURL" json:"graphURL"`
	DedupTTL    time.Duration `yaml:"dedupTTL" json:"dedupTTL"`
}

type VoiceflowConfig struct {
	VersionID      string `yaml:"versionID" json:"versionID"`
	BaseURL        string `yaml:"baseURL" json:"baseURL"` // Dialog Manager runtime, e.g. https://general-runtime.voiceflow.com
	APIKey         string `yaml:"apiKey" json:"apiKey"`
	ProjectID      string `yaml:"projectID" json:"projectID"` // transcripts are only saved when set
	TranscriptIcon string `yaml:"transcriptIcon" json:"transcriptIcon"`
	TranscriptURL  string `yaml:"transcriptURL" json:"transcriptURL"`
}

type DispatchConfig struct {
	MediaPacingPerKB   time.Duration `yaml:"mediaPacingPerKB" json:"mediaPacingPerKB"`
	MediaProbeFallback time.Duration `yaml:"mediaProbeFallback" json:"mediaProbeFallback"`
	RateLimit          float64       `yaml:"rateLimit" json:"rateLimit"` // sends per second; 0 = unlimited
	RateBurst          int           `yaml:"rateBurst" json:"rateBurst"`
}

type SessionsConfig struct {
	IdleTTL       time.Duration `yaml:"idleTTL" json:"idleTTL"`
	SweepSchedule string        `yaml:"sweepSchedule" json:"sweepSchedule"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug | info | warn | error
	Format string `yaml:"format" json:"format"` // auto | text | json
}

// ArchivingEnabled reports whether ended sessions should be archived as transcripts.
func (v VoiceflowConfig) ArchivingEnabled() bool { return v.ProjectID != "" }

func DefaultConfig() *Config {
	cfg := &Config{}
	applyLoadDefaults(cfg)
	return cfg
}
