package config

import (
	"time"

	units "github.com/docker/go-units"
)

// Duration is a time.Duration that reads "5s"-style strings from any format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ByteSize is a byte count that reads "50MB"-style strings.
type ByteSize int64

func (s ByteSize) Int64() int64 { return int64(s) }

func (s ByteSize) String() string { return units.BytesSize(float64(s)) }

func (s ByteSize) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ByteSize) UnmarshalText(b []byte) error {
	v, err := units.RAMInBytes(string(b))
	if err != nil {
		return err
	}
	*s = ByteSize(v)
	return nil
}
