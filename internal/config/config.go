// Package config loads the optional INI configuration file.
//
// The file mirrors the command line: every key in [server], [tls] and
// [rules] names a flag, with underscores for dashes. [tls] keys get a "tls-"
// prefix, so cert_file sets --tls-cert-file. [users] holds username =
// password pairs, where a password may be a bcrypt hash.
//
//	[server]
//	socks5_listen = 127.0.0.1:1080
//	idle_timeout = 5m
//
//	[tls]
//	listen = 127.0.0.1:1443
//	cert_file = /etc/socksd/cert.pem
//
//	[rules]
//	deny = 10.0.0.0/8, 169.254.0.0/16
//	deny_ports = 25
//
//	[users]
//	alice = $2a$10$...
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	ini "gopkg.in/ini.v1"
)

var flagSections = []struct {
	name   string
	prefix string
}{
	{name: "server"},
	{name: "tls", prefix: "tls-"},
	{name: "rules"},
}

// File is a parsed configuration file.
type File struct {
	Users map[string]string

	ini *ini.File
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		AllowBooleanKeys:    true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return parse(f)
}

// Parse parses INI data held in memory.
func Parse(data []byte) (*File, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		AllowBooleanKeys:    true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return parse(f)
}

func parse(f *ini.File) (*File, error) {
	known := map[string]bool{ini.DefaultSection: true, "users": true}
	for _, s := range flagSections {
		known[s.name] = true
	}
	for _, s := range f.Sections() {
		if !known[s.Name()] {
			return nil, fmt.Errorf("config: unknown section [%s]", s.Name())
		}
	}
	if len(f.Section(ini.DefaultSection).Keys()) > 0 {
		return nil, errors.New("config: keys must be inside a section")
	}

	cf := &File{ini: f}
	if users, err := f.GetSection("users"); err == nil {
		cf.Users = make(map[string]string, len(users.Keys()))
		for _, k := range users.Keys() {
			if k.Name() == "" {
				return nil, errors.New("config: [users] entry with empty username")
			}
			cf.Users[k.Name()] = k.Value()
		}
	}
	return cf, nil
}

// Apply sets every flag in fs named by the file, except flags that were set
// explicitly on the command line.
func (cf *File) Apply(fs *pflag.FlagSet) error {
	for _, sec := range flagSections {
		s, err := cf.ini.GetSection(sec.name)
		if err != nil {
			continue
		}
		for _, k := range s.Keys() {
			name := sec.prefix + strings.ReplaceAll(k.Name(), "_", "-")
			fl := fs.Lookup(name)
			if fl == nil || name == "config" {
				return fmt.Errorf("config: [%s] %s: unknown key", sec.name, k.Name())
			}
			if fl.Changed {
				continue
			}
			if err := fs.Set(name, k.Value()); err != nil {
				return fmt.Errorf("config: [%s] %s: %w", sec.name, k.Name(), err)
			}
		}
	}
	return nil
}
