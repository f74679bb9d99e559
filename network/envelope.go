package network

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360/dataports/errors"
)

// Flag tells a receiver why a value was sent
type Flag string

const (
	// FlagInitial marks the value an exporter sends when it starts
	FlagInitial Flag = "initial"
	// FlagChanged marks a value sent because the port changed
	FlagChanged Flag = "changed"
	// FlagPull marks a value sent in reply to a pull request
	FlagPull Flag = "pull"
)

// Envelope is the wire format of one port value
type Envelope struct {
	Source  uuid.UUID `json:"source"`
	Port    string    `json:"port"`
	Type    string    `json:"type"`
	Flag    Flag      `json:"flag"`
	Seq     uint64    `json:"seq"`
	Payload []byte    `json:"payload"`
}

// Validate checks the fields every envelope must carry
func (e *Envelope) Validate() error {
	switch {
	case e.Source == uuid.Nil:
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "missing source")
	case e.Port == "":
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "missing port")
	case e.Type == "":
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "missing type")
	}
	switch e.Flag {
	case FlagInitial, FlagChanged, FlagPull:
		return nil
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: flag %q", errors.ErrInvalidData, e.Flag), "Envelope", "Validate", "check flag")
	}
}

// Marshal encodes the envelope
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Marshal", "encode envelope")
	}
	return data, nil
}

// UnmarshalEnvelope decodes and validates an envelope
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "Envelope", "Unmarshal", "decode envelope")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// pullRequest is the body of a pull call
type pullRequest struct {
	Source uuid.UUID `json:"source"`
	Port   string    `json:"port"`
}

// SubjectToken turns a port name into a single subject token
func SubjectToken(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, name)
}

// DataSubject is the subject values of a port are published on
func DataSubject(prefix, portName string) string {
	return prefix + "." + SubjectToken(portName) + ".data"
}

// PullSubject is the subject pull calls for a port are served on
func PullSubject(prefix, portName string) string {
	return prefix + "." + SubjectToken(portName) + ".pull"
}
