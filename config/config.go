// Package config loads the anonymizer settings from defaults, an optional
// config file and DICOMANON_* environment variables, in increasing order of
// precedence.
package config

import (
	"strings"

	"github.com/carbocation/pfx"
	"github.com/spf13/viper"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/carbocation/dicomanon/anonymize"
)

const EnvPrefix = "DICOMANON"

// Keys understood in config files and, upper-cased with the prefix, in the
// environment (e.g. DICOMANON_UID_ROOT).
const (
	KeyExtension              = "extension"
	KeyForce                  = "force"
	KeyDecodePixels           = "decode_pixels"
	KeyProgress               = "progress"
	KeyUIDRoot                = "uid_root"
	KeyDeidentificationMethod = "deidentification_method"
	KeyExtraTags              = "extra_tags"
)

type Settings struct {
	Options                anonymize.Options
	UIDRoot                string
	DeidentificationMethod string
	ExtraTags              []tag.Tag
}

// Load reads configPath when it is not empty. The file type is taken from its
// extension (yaml, json, toml, ...).
func Load(configPath string) (*Settings, error) {
	v := viper.New()

	defaults := anonymize.DefaultOptions()
	v.SetDefault(KeyExtension, defaults.Extension)
	v.SetDefault(KeyForce, defaults.Force)
	v.SetDefault(KeyDecodePixels, defaults.DecodePixels)
	v.SetDefault(KeyProgress, defaults.Progress)
	v.SetDefault(KeyUIDRoot, anonymize.UUIDRoot)
	v.SetDefault(KeyDeidentificationMethod, anonymize.DefaultDeidentificationMethod)
	v.SetDefault(KeyExtraTags, []string{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, pfx.Err(err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Settings, error) {
	extraTags, err := anonymize.ParseTags(v.GetStringSlice(KeyExtraTags))
	if err != nil {
		return nil, pfx.Err(err)
	}

	uidRoot := v.GetString(KeyUIDRoot)
	if err := anonymize.ValidateUIDRoot(strings.TrimSuffix(uidRoot, ".")); err != nil {
		return nil, err
	}

	return &Settings{
		Options: anonymize.Options{
			Extension:    v.GetString(KeyExtension),
			Force:        v.GetBool(KeyForce),
			DecodePixels: v.GetBool(KeyDecodePixels),
			Progress:     v.GetBool(KeyProgress),
		},
		UIDRoot:                uidRoot,
		DeidentificationMethod: v.GetString(KeyDeidentificationMethod),
		ExtraTags:              extraTags,
	}, nil
}

// Anonymizer builds the record anonymizer described by s.
func (s *Settings) Anonymizer() (*anonymize.Anonymizer, error) {
	uids, err := anonymize.NewUIDGenerator(s.UIDRoot)
	if err != nil {
		return nil, err
	}

	a := anonymize.NewAnonymizer(s.ExtraTags...)
	a.UIDs = uids
	if s.DeidentificationMethod != "" {
		a.Method = s.DeidentificationMethod
	}

	return a, nil
}
