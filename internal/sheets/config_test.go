package sheets

import "testing"

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "oauth credentials",
			mutate: func(c *Config) { c.ClientID, c.ClientSecret, c.RefreshToken = "id", "secret", "token" },
		},
		{
			name:   "service account",
			mutate: func(c *Config) { c.ServiceAccountPath = "/tmp/sa.json" },
		},
		{
			name:    "no auth",
			mutate:  func(_ *Config) {},
			wantErr: true,
		},
		{
			name: "both auth methods",
			mutate: func(c *Config) {
				c.ClientID, c.ClientSecret, c.RefreshToken = "id", "secret", "token"
				c.ServiceAccountPath = "/tmp/sa.json"
			},
			wantErr: true,
		},
		{
			name: "zero batch size",
			mutate: func(c *Config) {
				c.ServiceAccountPath = "/tmp/sa.json"
				c.BatchSize = 0
			},
			wantErr: true,
		},
		{
			name: "negative retry attempts",
			mutate: func(c *Config) {
				c.ServiceAccountPath = "/tmp/sa.json"
				c.RetryAttempts = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
