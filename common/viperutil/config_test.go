/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package viperutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/tebon/fabrictest/internal/cryptogen"
)

const Prefix = "VIPERUTIL"

func readYAML(t *testing.T, data string) *viper.Viper {
	config := viper.New()
	config.SetConfigType("yaml")
	require.NoError(t, config.ReadConfig(bytes.NewReader([]byte(data))))
	return config
}

type testSlice struct {
	Inner struct {
		Slice []string
	}
}

func TestEnvSlice(t *testing.T) {
	t.Setenv("VIPERUTIL_INNER_SLICE", "[a, b, c]")

	config := New("unused", Prefix)
	require.NoError(t, config.ReadConfig(bytes.NewReader([]byte("---\nInner:\n    Slice: [d,e,f]"))))

	var uconf testSlice
	require.NoError(t, EnhancedExactUnmarshal(config, &uconf))
	require.Equal(t, []string{"a", "b", "c"}, uconf.Inner.Slice)
}

func TestCommaSeparatedSlice(t *testing.T) {
	config := readYAML(t, "---\nInner:\n    Slice: d,e,f")

	var uconf testSlice
	require.NoError(t, EnhancedExactUnmarshal(config, &uconf))
	require.Equal(t, []string{"d", "e", "f"}, uconf.Inner.Slice)
}

type testByteSize struct {
	Inner struct {
		ByteSize uint32
	}
}

func TestByteSize(t *testing.T) {
	tests := []struct {
		data     string
		expected uint32
	}{
		{"", 0},
		{"42", 42},
		{"42k", 42 * 1024},
		{"42kb", 42 * 1024},
		{"42K", 42 * 1024},
		{"42 KB", 42 * 1024},
		{"42m", 42 * 1024 * 1024},
		{"42 mb", 42 * 1024 * 1024},
		{"1g", 1024 * 1024 * 1024},
	}
	for _, tc := range tests {
		t.Run(tc.data, func(t *testing.T) {
			config := readYAML(t, fmt.Sprintf("---\nInner:\n    ByteSize: %s", tc.data))
			var uconf testByteSize
			require.NoError(t, EnhancedExactUnmarshal(config, &uconf))
			require.Equal(t, tc.expected, uconf.Inner.ByteSize)
		})
	}
}

func TestByteSizeOverflow(t *testing.T) {
	config := readYAML(t, "---\nInner:\n    ByteSize: 4GB")
	var uconf testByteSize
	err := EnhancedExactUnmarshal(config, &uconf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "overflows uint32")
}

type durationConfig struct {
	Inner struct {
		Timeout time.Duration
	}
}

func TestDuration(t *testing.T) {
	config := readYAML(t, "---\nInner:\n    Timeout: 8s")
	var uconf durationConfig
	require.NoError(t, EnhancedExactUnmarshal(config, &uconf))
	require.Equal(t, 8*time.Second, uconf.Inner.Timeout)
}

func TestUnusedKeys(t *testing.T) {
	config := readYAML(t, "---\nInner:\n    Timeout: 8s\n    Unknown: true")
	var uconf durationConfig
	err := EnhancedExactUnmarshal(config, &uconf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown")

	err = EnhancedExactUnmarshal(config, uconf)
	require.EqualError(t, err, "supplied output argument must be a pointer to a struct but is not pointer")
}

type stringFromFileConfig struct {
	Inner struct {
		Single   string
		Multiple []string
	}
}

func TestStringNotFromFile(t *testing.T) {
	config := readYAML(t, "---\nInner:\n  Single: expected_value\n")
	var uconf stringFromFileConfig
	require.NoError(t, EnhancedExactUnmarshal(config, &uconf))
	require.Equal(t, "expected_value", uconf.Inner.Single)
}

func TestStringFromFile(t *testing.T) {
	expectedValue := "this is the text in the file"
	file := filepath.Join(t.TempDir(), "test")
	require.NoError(t, os.WriteFile(file, []byte(expectedValue), 0o600))

	config := readYAML(t, fmt.Sprintf("---\nInner:\n  Single:\n    File: %s", file))
	var uconf stringFromFileConfig
	require.NoError(t, EnhancedExactUnmarshal(config, &uconf))
	require.Equal(t, expectedValue, uconf.Inner.Single)
}

func TestPEMBlocksFromFile(t *testing.T) {
	var pems []byte
	for i := 0; i < 3; i++ {
		ca, err := cryptogen.NewCA("", "tebon.com", fmt.Sprintf("ca%d.tebon.com", i))
		require.NoError(t, err)
		pems = append(pems, ca.CertBytes()...)
	}
	file := filepath.Join(t.TempDir(), "certs.pem")
	require.NoError(t, os.WriteFile(file, pems, 0o600))

	config := readYAML(t, fmt.Sprintf("---\nInner:\n  Multiple:\n    File: %s", file))
	var uconf stringFromFileConfig
	require.NoError(t, EnhancedExactUnmarshal(config, &uconf))
	require.Len(t, uconf.Inner.Multiple, 3)
	require.Equal(t, string(pems[:len(uconf.Inner.Multiple[0])]), uconf.Inner.Multiple[0])
}
