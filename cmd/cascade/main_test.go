package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/inference"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cascade.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		dataset   string
		wantClass int
		wantFirst string
		wantErr   error
	}{
		{name: "dataset defaults", dataset: "voc", wantClass: 20, wantFirst: "aeroplane"},
		{name: "coco defaults", dataset: "coco", wantClass: 80, wantFirst: "person"},
		{name: "config matches dataset", config: "num_class: 80\n", dataset: "coco", wantClass: 80, wantFirst: "person"},
		{name: "config names", config: "num_class: 2\nclasses: [cat, dog]\n", dataset: "voc", wantClass: 2, wantFirst: "cat"},
		{name: "count mismatch", config: "num_class: 80\n", dataset: "voc", wantErr: common.ErrConfiguration},
		{name: "unknown dataset", dataset: "imagenet", wantErr: common.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.config != "" {
				path = writeConfig(t, tt.config)
			}
			cfg, classes, err := loadConfig(path, tt.dataset)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantClass, cfg.NumClass)
			require.Len(t, classes, tt.wantClass)
			assert.Equal(t, tt.wantFirst, inference.ClassName(classes, 0))
		})
	}
}
