package store

import (
	"context"
	"testing"

	"r2mig/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
	}{
		{name: "memory store", cfg: config.StoreConfig{Type: "memory"}},
		{name: "filesystem store", cfg: config.StoreConfig{Type: "filesystem", Root: t.TempDir()}},
		{name: "filesystem without root", cfg: config.StoreConfig{Type: "filesystem"}, wantErr: true},
		{name: "s3 store", cfg: config.StoreConfig{
			Type:            "s3",
			Bucket:          "receipts",
			Endpoint:        "http://127.0.0.1:9000",
			AccessKeyID:     "key",
			SecretAccessKey: "secret",
		}},
		{name: "s3 without bucket", cfg: config.StoreConfig{Type: "s3"}, wantErr: true},
		{name: "unknown type", cfg: config.StoreConfig{Type: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewStoreFromConfig() returned nil store")
			}
		})
	}
}
