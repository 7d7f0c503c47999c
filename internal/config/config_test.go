package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "service_queue", cfg.QueueName)
	require.Equal(t, 5, cfg.ConnectAttempts)
	require.Equal(t, time.Second, cfg.ConnectDelay)
	require.Equal(t, time.Hour, cfg.JobResultTTL)
	require.Zero(t, cfg.FingerprintResultTTL)
	require.Equal(t, ContentBackendFile, cfg.ContentBackend)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"CONTENT_BACKEND":   "S3",
		"S3_BUCKET":         "images",
		"S3_USE_PATH_STYLE": "true",
		"PREDICT_TIMEOUT":   "5s",
		"WORKERS":           "4",
		"MODEL_KIND":        "static",
	}))
	require.NoError(t, err)
	require.Equal(t, ContentBackendS3, cfg.ContentBackend)
	require.True(t, cfg.S3.UsePathStyle)
	require.Equal(t, 5*time.Second, cfg.PredictTimeout)
	require.Equal(t, 4, cfg.Workers)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"CONNECT_DELAY": "soon"}))
	require.ErrorContains(t, err, "CONNECT_DELAY")

	_, err = FromEnv(env(map[string]string{"CONTENT_BACKEND": "s3"}))
	require.ErrorContains(t, err, "S3_BUCKET")

	_, err = FromEnv(env(map[string]string{"CONTENT_BACKEND": "floppy"}))
	require.Error(t, err)

	_, err = FromEnv(env(map[string]string{"CONNECT_ATTEMPTS": "0"}))
	require.Error(t, err)
}
