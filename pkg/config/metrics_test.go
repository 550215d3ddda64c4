package config

import "testing"

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()

	result := InitializeMetrics(cfg)
	if result.Server != nil {
		t.Error("Expected no metrics server when metrics are disabled")
	}
	if result.CacheMetrics != nil || result.S3Metrics != nil {
		t.Error("Expected nil metrics when metrics are disabled")
	}
}
