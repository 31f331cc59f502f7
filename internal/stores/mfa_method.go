package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	methodRecordVersion1 = 1

	maxFieldLen   = 65535
	maxBackupSize = 1024
)

var (
	ErrMethodRecordNotFound = errors.New("mfa method record not found")
	ErrMethodRecordCorrupt  = errors.New("mfa method record corrupt")
	ErrMethodBackend        = errors.New("mfa method backend unavailable")
	ErrMethodConflict       = errors.New("mfa method record conflict")
)

// MethodType tags the payload variant carried by a record. Exactly one
// payload pointer is non-nil for a live record; the codec enforces the
// pairing so a TOTP row can never carry SMS fields.
type MethodType uint8

const (
	TypeTOTP MethodType = iota + 1
	TypeSMS
	TypeBackupCodes
)

// MethodState is the explicit lifecycle state of a method row. There is no
// "unconfigured" value: that state is represented by row absence.
type MethodState uint8

const (
	StateEnrolling MethodState = iota + 1
	StateEnabled
	StateDisabled
)

// TOTPPayload carries the shared secret and code parameters for a
// time-based method. LastCounter is the most recent accepted time step,
// kept for replay rejection.
type TOTPPayload struct {
	Secret      []byte
	Digits      uint8
	Period      uint16
	LastCounter int64
}

// SMSPayload carries the primed phone number and the hash of the last
// issued code. CodeSet distinguishes "no code outstanding" from a zero
// hash.
type SMSPayload struct {
	PhoneNumber   string
	CodeHash      [32]byte
	CodeSet       bool
	CodeExpiresAt int64
}

// BackupPayload holds the hashes of the remaining unused codes. Consumed
// codes are removed, never marked.
type BackupPayload struct {
	Hashes [][32]byte
}

// MethodRecord is one (user, method type) row with verification counters,
// lockout state, and audit timestamps. All times are Unix seconds; zero
// means unset.
type MethodRecord struct {
	UserID string
	Type   MethodType
	State  MethodState

	FailedAttempts uint16
	LockedUntil    int64
	LastUsedAt     int64
	CreatedAt      int64
	UpdatedAt      int64

	TOTP   *TOTPPayload
	SMS    *SMSPayload
	Backup *BackupPayload
}

// MethodStore persists MethodRecord rows in Redis, one key per
// (user, type) pair, without TTL: rows survive until explicitly disabled
// and are retained for audit even then.
type MethodStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewMethodStore creates a MethodStore with the given key prefix.
func NewMethodStore(redisClient redis.UniversalClient, prefix string) *MethodStore {
	if prefix == "" {
		prefix = "mm"
	}
	return &MethodStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *MethodStore) key(userID string, typ MethodType) string {
	return s.prefix + ":" + userID + ":" + strconv.Itoa(int(typ))
}

// Save writes the record unconditionally, replacing any prior row.
func (s *MethodStore) Save(ctx context.Context, record *MethodRecord) error {
	encoded, err := encodeMethodRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(record.UserID, record.Type), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMethodBackend, err)
	}
	return nil
}

// Get fetches the row for (userID, typ). Returns ErrMethodRecordNotFound
// when no row exists.
func (s *MethodStore) Get(ctx context.Context, userID string, typ MethodType) (*MethodRecord, error) {
	data, err := s.redis.Get(ctx, s.key(userID, typ)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMethodRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMethodBackend, err)
	}
	return decodeMethodRecord(data)
}

// Mutate applies fn to the current row under an optimistic WATCH
// transaction and persists the result when fn reports a change. Concurrent
// writers retry a bounded number of times so a verification failure can
// never lose its counter increment to a racing attempt.
//
// fn receives a decoded copy and returns whether the record must be
// persisted. Returning an error aborts without writing.
func (s *MethodStore) Mutate(
	ctx context.Context,
	userID string,
	typ MethodType,
	fn func(record *MethodRecord) (bool, error),
) (*MethodRecord, error) {
	const maxRetries = 4
	key := s.key(userID, typ)

	for i := 0; i < maxRetries; i++ {
		var (
			result *MethodRecord
			fnErr  error
		)
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeMethodRecord(data)
			if err != nil {
				return err
			}

			persist, err := fn(record)
			if err != nil {
				fnErr = err
				return err
			}
			result = record
			if !persist {
				return nil
			}

			updated, err := encodeMethodRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if fnErr != nil {
				// Business-rule aborts from the callback pass through
				// untouched so callers can match their own sentinels.
				return nil, fnErr
			}
			if errors.Is(err, redis.Nil) {
				return nil, ErrMethodRecordNotFound
			}
			if errors.Is(err, ErrMethodRecordCorrupt) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrMethodBackend, err)
		}
		return result, nil
	}

	return nil, ErrMethodConflict
}

/*
====================================
BINARY CODEC
====================================
*/

func encodeMethodRecord(record *MethodRecord) ([]byte, error) {
	if err := validatePayloadPairing(record); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(methodRecordVersion1)
	buf.WriteByte(byte(record.Type))
	buf.WriteByte(byte(record.State))

	if err := binary.Write(&buf, binary.BigEndian, record.FailedAttempts); err != nil {
		return nil, err
	}
	for _, ts := range []int64{
		record.LockedUntil,
		record.LastUsedAt,
		record.CreatedAt,
		record.UpdatedAt,
	} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	if err := writeString16(&buf, record.UserID); err != nil {
		return nil, err
	}

	switch record.Type {
	case TypeTOTP:
		p := record.TOTP
		if err := writeBytes16(&buf, p.Secret); err != nil {
			return nil, err
		}
		buf.WriteByte(p.Digits)
		if err := binary.Write(&buf, binary.BigEndian, p.Period); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, p.LastCounter); err != nil {
			return nil, err
		}
	case TypeSMS:
		p := record.SMS
		if err := writeString16(&buf, p.PhoneNumber); err != nil {
			return nil, err
		}
		if p.CodeSet {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.Write(p.CodeHash[:])
		if err := binary.Write(&buf, binary.BigEndian, p.CodeExpiresAt); err != nil {
			return nil, err
		}
	case TypeBackupCodes:
		p := record.Backup
		if len(p.Hashes) > maxBackupSize {
			return nil, errors.New("too many backup codes")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(p.Hashes))); err != nil {
			return nil, err
		}
		for _, h := range p.Hashes {
			buf.Write(h[:])
		}
	}

	return buf.Bytes(), nil
}

func decodeMethodRecord(data []byte) (*MethodRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	if version != methodRecordVersion1 {
		return nil, fmt.Errorf("%w: unknown record version %d", ErrMethodRecordCorrupt, version)
	}

	record := &MethodRecord{}

	typ, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	record.Type = MethodType(typ)

	state, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	record.State = MethodState(state)

	if err := binary.Read(reader, binary.BigEndian, &record.FailedAttempts); err != nil {
		return nil, corrupt(err)
	}
	for _, dst := range []*int64{
		&record.LockedUntil,
		&record.LastUsedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, corrupt(err)
		}
	}

	record.UserID, err = readString16(reader)
	if err != nil {
		return nil, corrupt(err)
	}

	switch record.Type {
	case TypeTOTP:
		p := &TOTPPayload{}
		p.Secret, err = readBytes16(reader)
		if err != nil {
			return nil, corrupt(err)
		}
		p.Digits, err = reader.ReadByte()
		if err != nil {
			return nil, corrupt(err)
		}
		if err := binary.Read(reader, binary.BigEndian, &p.Period); err != nil {
			return nil, corrupt(err)
		}
		if err := binary.Read(reader, binary.BigEndian, &p.LastCounter); err != nil {
			return nil, corrupt(err)
		}
		record.TOTP = p
	case TypeSMS:
		p := &SMSPayload{}
		p.PhoneNumber, err = readString16(reader)
		if err != nil {
			return nil, corrupt(err)
		}
		set, err := reader.ReadByte()
		if err != nil {
			return nil, corrupt(err)
		}
		p.CodeSet = set == 1
		if _, err := io.ReadFull(reader, p.CodeHash[:]); err != nil {
			return nil, corrupt(err)
		}
		if err := binary.Read(reader, binary.BigEndian, &p.CodeExpiresAt); err != nil {
			return nil, corrupt(err)
		}
		record.SMS = p
	case TypeBackupCodes:
		p := &BackupPayload{}
		var count uint16
		if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
			return nil, corrupt(err)
		}
		if int(count) > maxBackupSize {
			return nil, fmt.Errorf("%w: backup code count out of range", ErrMethodRecordCorrupt)
		}
		p.Hashes = make([][32]byte, count)
		for i := range p.Hashes {
			if _, err := io.ReadFull(reader, p.Hashes[i][:]); err != nil {
				return nil, corrupt(err)
			}
		}
		record.Backup = p
	default:
		return nil, fmt.Errorf("%w: unknown method type %d", ErrMethodRecordCorrupt, record.Type)
	}

	return record, nil
}

func validatePayloadPairing(record *MethodRecord) error {
	switch record.Type {
	case TypeTOTP:
		if record.TOTP == nil || record.SMS != nil || record.Backup != nil {
			return errors.New("totp record requires exactly the totp payload")
		}
	case TypeSMS:
		if record.SMS == nil || record.TOTP != nil || record.Backup != nil {
			return errors.New("sms record requires exactly the sms payload")
		}
	case TypeBackupCodes:
		if record.Backup == nil || record.TOTP != nil || record.SMS != nil {
			return errors.New("backup record requires exactly the backup payload")
		}
	default:
		return errors.New("unknown method type")
	}
	return nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrMethodRecordCorrupt, err)
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > maxFieldLen {
		return errors.New("field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString16(reader *bytes.Reader) (string, error) {
	b, err := readBytes16(reader)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes16(buf *bytes.Buffer, b []byte) error {
	if len(b) > maxFieldLen {
		return errors.New("field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(b))); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readBytes16(reader *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
