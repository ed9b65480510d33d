package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors a settings struct field by field. Value priority: environment > file > default tag.
type Config struct {
	Ptr      reflect.Value
	Env      any
	File     any
	Default  any
	name     string
	propsMap map[string]*Config
	props    []*Config
	tag      reflect.StructTag
}

func (config *Config) Get(key string) (v *Config) {
	if config.propsMap == nil {
		config.propsMap = make(map[string]*Config)
	}
	if v, ok := config.propsMap[key]; ok {
		return v
	}
	v = &Config{
		name: key,
	}
	config.propsMap[key] = v
	config.props = append(config.props, v)
	return v
}

func (config *Config) Has(key string) (ok bool) {
	if config.propsMap == nil {
		return false
	}
	_, ok = config.propsMap[strings.ToLower(key)]
	return ok
}

func (config *Config) GetValue() any {
	return config.Ptr.Interface()
}

// Parse reads default tags and environment variables into s. Environment names are the
// upper-cased prefix joined with the field path, e.g. MP4_MAXDEPTH.
func (config *Config) Parse(s any, prefix ...string) {
	var t reflect.Type
	var v reflect.Value
	if vv, ok := s.(reflect.Value); ok {
		t, v = vv.Type(), vv
	} else {
		t, v = reflect.TypeOf(s), reflect.ValueOf(s)
	}
	if t.Kind() == reflect.Pointer {
		t, v = t.Elem(), v.Elem()
	}

	config.Ptr = v
	config.Default = v.Interface()

	if l := len(prefix); l > 0 {
		name := strings.ToLower(prefix[l-1])
		if tag := config.tag.Get("default"); tag != "" {
			v.Set(config.assign(name, tag))
			config.Default = v.Interface()
		}
		if envValue := os.Getenv(strings.Join(prefix, "_")); envValue != "" {
			v.Set(config.assign(name, envValue))
			config.Env = v.Interface()
		}
	}

	if t.Kind() != reflect.Struct {
		return
	}
	for i, j := 0, t.NumField(); i < j; i++ {
		ft, fv := t.Field(i), v.Field(i)
		if !ft.IsExported() {
			continue
		}
		name := strings.ToLower(ft.Name)
		if tag := ft.Tag.Get("yaml"); tag != "" {
			if tag == "-" {
				continue
			}
			name, _, _ = strings.Cut(tag, ",")
		}
		prop := config.Get(name)
		prop.tag = ft.Tag
		prop.Parse(fv, append(prefix, strings.ToUpper(ft.Name))...)
	}
}

// ParseUserFile overlays values decoded from a settings file. Environment values keep priority.
func (config *Config) ParseUserFile(conf map[string]any) {
	if conf == nil {
		return
	}
	config.File = conf
	for k, v := range conf {
		k = strings.ToLower(k)
		if !config.Has(k) {
			continue
		}
		if prop := config.Get(k); prop.props != nil {
			if sub, ok := v.(map[string]any); ok {
				prop.ParseUserFile(sub)
			}
		} else {
			fv := prop.assign(k, v)
			prop.File = fv.Interface()
			if prop.Env == nil {
				prop.Ptr.Set(fv)
			}
		}
	}
}

func (config *Config) GetMap() map[string]any {
	m := make(map[string]any)
	for k, v := range config.propsMap {
		if v.props != nil {
			if vv := v.GetMap(); vv != nil {
				m[k] = vv
			}
		} else if v.GetValue() != nil {
			m[k] = v.GetValue()
		}
	}
	if len(m) > 0 {
		return m
	}
	return nil
}

func (config *Config) assign(k string, v any) (target reflect.Value) {
	ft := config.Ptr.Type()
	tmpStruct := reflect.StructOf([]reflect.StructField{
		{
			Name: strings.ToUpper(k),
			Type: ft,
			Tag:  reflect.StructTag(fmt.Sprintf(`yaml:"%s"`, k)),
		},
	})
	tmpValue := reflect.New(tmpStruct)
	if v != nil {
		var out []byte
		if vv, ok := v.(string); ok {
			out = []byte(fmt.Sprintf("%s: %s", k, vv))
		} else {
			out, _ = yaml.Marshal(map[string]any{k: v})
		}
		_ = yaml.Unmarshal(out, tmpValue.Interface())
	}
	target = tmpValue.Elem().Field(0)
	return
}

// LoadFile reads a YAML settings file into a generic map for ParseUserFile.
func LoadFile(path string) (conf map[string]any, err error) {
	var data []byte
	if data, err = os.ReadFile(path); err != nil {
		return
	}
	err = yaml.Unmarshal(data, &conf)
	return
}

// Parse fills target from its default tags, the environment under prefix, then conf.
func Parse(target any, prefix string, conf map[string]any) *Config {
	var c Config
	c.Parse(target, prefix)
	c.ParseUserFile(conf)
	return &c
}
