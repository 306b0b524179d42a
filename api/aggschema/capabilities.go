package aggschema

// Store settings that control how JSON columns are created and how their
// values travel over the wire.
const (
	SettingEnableJSONType    = "enable_json_type"
	SettingReadJSONAsString  = "input_format_binary_read_json_as_string"
	SettingWriteJSONAsString = "output_format_binary_write_json_as_string"

	// The native protocol has its own output toggle; clickhouse-go speaks native.
	SettingNativeWriteJSONAsString = "output_format_native_write_json_as_string"
)

// Capabilities selects the store-side JSON behaviour for a connection.
type Capabilities struct {
	// NativeJSON turns on the JSON column type. Required before the raw or
	// aggregate tables can be created.
	NativeJSON bool
	// ReadJSONAsString lets inserts carry event_data as serialized text.
	ReadJSONAsString bool
	// WriteJSONAsString makes selects return event_data as serialized text.
	WriteJSONAsString bool
}

// DefaultCapabilities enables everything; this is how the harness runs.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		NativeJSON:        true,
		ReadJSONAsString:  true,
		WriteJSONAsString: true,
	}
}

// Settings renders the capabilities as string-valued store options.
func (c Capabilities) Settings() map[string]string {
	settings := map[string]string{
		SettingEnableJSONType:    flag(c.NativeJSON),
		SettingReadJSONAsString:  flag(c.ReadJSONAsString),
		SettingWriteJSONAsString: flag(c.WriteJSONAsString),
	}
	if c.WriteJSONAsString {
		settings[SettingNativeWriteJSONAsString] = "1"
	}
	return settings
}

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
