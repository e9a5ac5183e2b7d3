/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package viperutil

import (
	"encoding/pem"
	"fmt"
	"math"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var logger = flogging.MustGetLogger("viperutil")

// ConfigPaths returns the paths from environment and
// defaults which are CWD and /etc/hyperledger/fabric.
func ConfigPaths() []string {
	var paths []string
	if p := os.Getenv("FABRIC_CFG_PATH"); p != "" {
		paths = append(paths, p)
	}
	return append(paths, ".", "/etc/hyperledger/fabric")
}

// New returns a viper instance that searches ConfigPaths for name.yaml and
// lets <PREFIX>_<KEY> environment variables override keys, with dots in
// keys replaced by underscores.
func New(name, envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	for _, p := range ConfigPaths() {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// customDecodeHook parses strings of the format "[thing1, thing2, thing3]"
// into string slices. Note that whitespace around slice elements is removed.
func customDecodeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}

	raw := data.(string)
	l := len(raw)
	if l > 1 && raw[0] == '[' && raw[l-1] == ']' {
		slice := strings.Split(raw[1:l-1], ",")
		for i, v := range slice {
			slice[i] = strings.TrimSpace(v)
		}
		return slice, nil
	}

	return data, nil
}

var byteSizeRegexp = regexp.MustCompile(`^(?P<size>[0-9]+)\s*(?i)(?P<unit>(k|m|g))b?$`)

// byteSizeDecodeHook parses sizes such as "10m" or "512 KB" into uint32
// byte counts.
func byteSizeDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	if f != reflect.String || t != reflect.Uint32 {
		return data, nil
	}
	raw := data.(string)
	if raw == "" || !byteSizeRegexp.MatchString(raw) {
		return data, nil
	}
	size, err := strconv.ParseUint(byteSizeRegexp.ReplaceAllString(raw, "${size}"), 0, 64)
	if err != nil {
		return data, nil
	}
	switch strings.ToLower(byteSizeRegexp.ReplaceAllString(raw, "${unit}")) {
	case "g":
		size = size << 10
		fallthrough
	case "m":
		size = size << 10
		fallthrough
	case "k":
		size = size << 10
	}
	if size > math.MaxUint32 {
		return size, fmt.Errorf("value '%s' overflows uint32", raw)
	}
	return size, nil
}

func fileName(data interface{}) (string, bool) {
	d, ok := data.(map[string]interface{})
	if !ok {
		return "", false
	}
	name, ok := d["File"]
	if !ok {
		name, ok = d["file"]
	}
	if !ok {
		return "", false
	}
	s, _ := name.(string)
	return s, true
}

// stringFromFileDecodeHook replaces {File: path} with the file contents.
func stringFromFileDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	if t != reflect.String || f != reflect.Map {
		return data, nil
	}
	name, ok := fileName(data)
	switch {
	case !ok:
		return data, nil
	case name == "":
		return nil, fmt.Errorf("Value of File: was nil")
	}
	bytes, err := os.ReadFile(name)
	if err != nil {
		return data, err
	}
	return string(bytes), nil
}

// pemBlocksFromFileDecodeHook replaces {File: path} with the certificates
// in the file, one PEM block per element.
func pemBlocksFromFileDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	if t != reflect.Slice || f != reflect.Map {
		return data, nil
	}
	name, ok := fileName(data)
	switch {
	case !ok:
		return data, nil
	case name == "":
		return nil, fmt.Errorf("Value of File: was nil")
	}
	bytes, err := os.ReadFile(name)
	if err != nil {
		return data, err
	}
	var result []string
	for len(bytes) > 0 {
		var block *pem.Block
		block, bytes = pem.Decode(bytes)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
			continue
		}
		result = append(result, string(pem.EncodeToMemory(block)))
	}
	return result, nil
}

// DecodeHook is the hook chain used to decode configuration values.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		customDecodeHook,
		mapstructure.StringToSliceHookFunc(","),
		byteSizeDecodeHook,
		stringFromFileDecodeHook,
		pemBlocksFromFileDecodeHook,
	)
}

// EnhancedExactUnmarshal is intended to unmarshal a config file into a structure
// producing error when extraneous variables are introduced and supporting
// the time.Duration type
func EnhancedExactUnmarshal(v *viper.Viper, output interface{}) error {
	oType := reflect.TypeOf(output)
	if oType == nil || oType.Kind() != reflect.Ptr {
		return errors.Errorf("supplied output argument must be a pointer to a struct but is not pointer")
	}
	if oType.Elem().Kind() != reflect.Struct {
		return errors.Errorf("supplied output argument must be a pointer to a struct, but it is pointer to something else")
	}

	logger.Debugf("Decoding configuration from %q", v.ConfigFileUsed())
	return v.Unmarshal(output, func(c *mapstructure.DecoderConfig) {
		c.ErrorUnused = true
		c.WeaklyTypedInput = true
		c.DecodeHook = DecodeHook()
	})
}
