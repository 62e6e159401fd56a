package serial

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrTypeMismatch = errors.New("serialized type does not match target")
	ErrMalformed    = errors.New("malformed serialized object")
)

// Validity is implemented by argument types that track whether their last
// deserialization succeeded.
type Validity interface {
	SetValid(valid bool)
}

// frame is one serialized object: the sender's id for the type, the type
// name the first time that id is used on the connection, and the payload.
type frame struct {
	_    struct{} `cbor:",toarray"`
	ID   uint32
	Name string
	Data cbor.RawMessage
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Serializer holds the type context of one connection: which type names
// were already sent to the peer and which ids the peer assigned to the
// names it sent.
type Serializer struct {
	types TypeRegistry

	mu       sync.Mutex
	sent     map[string]uint32
	nextID   uint32
	received map[uint32]string
	buf      bytes.Buffer
}

// NewSerializer returns a serializer with an empty type context.
func NewSerializer(types TypeRegistry) *Serializer {
	s := &Serializer{types: types}
	s.resetLocked()
	return s
}

// Reset forgets the type context, as after a peer reconnects.
func (s *Serializer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Serializer) resetLocked() {
	s.sent = make(map[string]uint32)
	s.received = make(map[uint32]string)
	s.nextID = 1
}

// ServicesSerialized reports whether the descriptor of the named type was
// already sent on this connection.
func (s *Serializer) ServicesSerialized(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[name]
	return ok
}

// Serialize encodes v, preceded by its type descriptor the first time its
// type is sent on this connection.
func (s *Serializer) Serialize(v any) ([]byte, error) {
	name, ok := s.types.NameOf(v)
	if !ok {
		return nil, fmt.Errorf("serialize %T: %w", v, ErrUnregisteredType)
	}
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := frame{Data: data}
	if id, ok := s.sent[name]; ok {
		f.ID = id
	} else {
		f.ID = s.nextID
		f.Name = name
		s.nextID++
	}

	s.buf.Reset()
	if err := encMode.NewEncoder(&s.buf).Encode(f); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", name, err)
	}
	if f.Name != "" {
		s.sent[name] = f.ID
	}
	return bytes.Clone(s.buf.Bytes()), nil
}

// decodeFrame reads one frame, ignoring trailing bytes, and resolves its type name.
func (s *Serializer) decodeFrame(data []byte) (frame, string, error) {
	var f frame
	if err := decMode.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return f, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Name != "" {
		s.received[f.ID] = f.Name
		return f, f.Name, nil
	}
	name, ok := s.received[f.ID]
	if !ok {
		return f, "", fmt.Errorf("%w: type id %d never described", ErrMalformed, f.ID)
	}
	return f, name, nil
}

// Peek returns the type name of the serialized object without decoding it.
func (s *Serializer) Peek(data []byte) (string, error) {
	_, name, err := s.decodeFrame(data)
	return name, err
}

// Discard reads the frame header of data so that a type name carried on its
// first use is recorded, without decoding the value. A receiver calls it for
// every message it drops; otherwise later messages of that type would refer
// to an id it never learned. Empty data is a no-op.
func (s *Serializer) Discard(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, _, err := s.decodeFrame(data)
	return err
}

// Deserialize decodes data into the pointer into. The serialized type must
// be the registered type of into. On failure a Validity target is marked invalid.
func (s *Serializer) Deserialize(data []byte, into any) (err error) {
	defer func() {
		if v, ok := into.(Validity); ok {
			v.SetValid(err == nil)
		}
	}()
	f, name, err := s.decodeFrame(data)
	if err != nil {
		return err
	}
	want, ok := s.types.NameOf(into)
	if !ok {
		return fmt.Errorf("deserialize into %T: %w", into, ErrUnregisteredType)
	}
	if want != name {
		return fmt.Errorf("deserialize %s into %s: %w", name, want, ErrTypeMismatch)
	}
	if err := decMode.Unmarshal(f.Data, into); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return nil
}

// DeserializeNew constructs an object of the serialized type and decodes
// into it. It fails with ErrUnknownType when the type cannot be built locally.
func (s *Serializer) DeserializeNew(data []byte) (any, error) {
	f, name, err := s.decodeFrame(data)
	if err != nil {
		return nil, err
	}
	obj, ok := s.types.Construct(name)
	if !ok {
		return nil, fmt.Errorf("deserialize %s: %w", name, ErrUnknownType)
	}
	if err := decMode.Unmarshal(f.Data, obj); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return obj, nil
}
