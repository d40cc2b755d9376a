package config

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemaVersion is the MAJOR.MINOR version a config file declares. Minor
// bumps only add optional fields; a major bump is a breaking change.
type SchemaVersion struct {
	Major, Minor int
}

// ParseVersion reads "MAJOR.MINOR". An empty string means 1.0, the schema
// of files written before schema_version existed.
func ParseVersion(s string) (SchemaVersion, error) {
	if s == "" {
		return SchemaVersion{Major: 1}, nil
	}
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return SchemaVersion{}, fmt.Errorf("schema version %q: want MAJOR.MINOR", s)
	}
	var v SchemaVersion
	var err error
	if v.Major, err = strconv.Atoi(major); err != nil || v.Major < 0 {
		return SchemaVersion{}, fmt.Errorf("schema version %q: bad major %q", s, major)
	}
	if v.Minor, err = strconv.Atoi(minor); err != nil || v.Minor < 0 {
		return SchemaVersion{}, fmt.Errorf("schema version %q: bad minor %q", s, minor)
	}
	return v, nil
}

func (v SchemaVersion) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// IsCompatible reports whether this binary, built for schema current, can
// read a file declaring v.
func (v SchemaVersion) IsCompatible(current SchemaVersion) bool {
	return v.Major == current.Major && v.Minor <= current.Minor
}

var currentSchema = func() SchemaVersion {
	v, err := ParseVersion(CurrentSchemaVersion)
	if err != nil {
		panic(err)
	}
	return v
}()

func checkVersion(s string) error {
	v, err := ParseVersion(s)
	if err != nil {
		return err
	}
	if !v.IsCompatible(currentSchema) {
		return fmt.Errorf("unsupported schema version %s (this build reads up to %s)", v, currentSchema)
	}
	return nil
}
