package handlers

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Description is a decoded handler description. Exactly one of the config
// fields is set, matching Kind.
type Description struct {
	Kind                 Kind
	Registry             *RegistryConfig
	Ini                  *IniConfig
	SystemParametersInfo *SystemParametersInfoConfig
	Client               *ClientConfig
	System               *SystemConfig
}

// RegistryConfig configures a registry handler.
type RegistryConfig struct {
	// KeyName is the full key path, e.g. `HKEY_CURRENT_USER\Control Panel\Desktop`.
	KeyName string `mapstructure:"key_name"`
	// ValueName overrides the setting name as the value name.
	ValueName string `mapstructure:"value_name"`
	// ValueType is the registry type used for writes.
	ValueType string `mapstructure:"value_type"`
}

// IniConfig configures an ini handler.
type IniConfig struct {
	// Filename may contain $(APPDATA).
	Filename string `mapstructure:"filename"`
	Section  string `mapstructure:"section"`
	// Key overrides the setting name as the key.
	Key string `mapstructure:"key"`
}

// SystemParametersInfoConfig configures the system parameters finalizer.
type SystemParametersInfoConfig struct {
	Action string `mapstructure:"action"`
}

// ClientConfig configures a remote preference handler.
type ClientConfig struct {
	Solution string `mapstructure:"solution"`
	// Preference overrides the setting name as the preference name.
	Preference string `mapstructure:"preference"`
}

// SystemConfig configures an OS setting handler.
type SystemConfig struct {
	// SettingID overrides the setting name as the OS setting id.
	SettingID string `mapstructure:"setting_id"`
}

// Decode decodes a handler description. Unknown fields and missing
// required fields are errors.
func Decode(desc map[string]any) (Description, error) {
	discriminator, _ := desc["type"].(string)
	kind, err := ParseKind(discriminator)
	if err != nil {
		return Description{}, err
	}

	fields := make(map[string]any, len(desc))
	for k, v := range desc {
		if k != "type" {
			fields[k] = v
		}
	}

	d := Description{Kind: kind}
	switch kind {
	case KindRegistry:
		d.Registry = &RegistryConfig{}
		err = decodeFields(fields, d.Registry)
		if err == nil && d.Registry.KeyName == "" {
			err = errors.Wrap(ErrInvalidDescription, "registry: key_name is required")
		}
		if err == nil {
			_, err = ParseValueKind(d.Registry.ValueType)
		}
	case KindIni:
		d.Ini = &IniConfig{}
		err = decodeFields(fields, d.Ini)
		if err == nil && d.Ini.Filename == "" {
			err = errors.Wrap(ErrInvalidDescription, "ini: filename is required")
		}
	case KindSystemParametersInfo:
		d.SystemParametersInfo = &SystemParametersInfoConfig{}
		err = decodeFields(fields, d.SystemParametersInfo)
		if err == nil {
			_, err = ParseAction(d.SystemParametersInfo.Action)
		}
	case KindClient:
		d.Client = &ClientConfig{}
		err = decodeFields(fields, d.Client)
		if err == nil && d.Client.Solution == "" {
			err = errors.Wrap(ErrInvalidDescription, "client: solution is required")
		}
	case KindSystem:
		d.System = &SystemConfig{}
		err = decodeFields(fields, d.System)
	default:
		err = errors.Wrapf(ErrUnknownKind, "kind %d", kind)
	}
	if err != nil {
		return Description{}, err
	}
	return d, nil
}

func decodeFields(fields map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(fields); err != nil {
		return errors.Wrap(ErrInvalidDescription, err.Error())
	}
	return nil
}
