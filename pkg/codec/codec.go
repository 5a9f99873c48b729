package codec

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// Codec converts between advertisements, encoder commands and entity changes
// for one vendor protocol variant.
type Codec interface {
	ID() string
	MatchID() string
	DecodeAdv(adv Advertisement) (EncoderCommand, DeviceConfig, bool)
	EncodeAdvs(cmd EncoderCommand, conf DeviceConfig) ([]Advertisement, error)
	EntToEnc(ent EntityAttrs) []EncoderCommand
	EncToEnt(cmd EncoderCommand) []EntityAttrs
	SupportedFeatures(baseType string) []Features
	Defaults() TxDefaults
	NextTx(conf *DeviceConfig)
}

// Cipher is the vendor specific part of a codec. Decrypt and ToEnc return
// an error wrapping ErrNoMatch when the payload does not belong to the codec.
type Cipher interface {
	// Len is the payload length once header and footer are removed.
	Len() int
	Decrypt(buf []byte) ([]byte, error)
	Encrypt(buf []byte) []byte
	ToEnc(decoded []byte) (EncoderCommand, DeviceConfig, error)
	FromEnc(cmd EncoderCommand, conf DeviceConfig) []byte
}

const maxEntityIndex = 3

// Base implements the framing shared by every codec: header, footer,
// prefix, AD type, translators and transmit counters.
type Base struct {
	id          string
	matchID     string
	header      []byte
	headerStart int
	footer      []byte
	prefix      []byte
	adFlag      byte
	bleType     byte
	translators []*Translator
	txStep      uint16
	txMax       uint16
	defaults    TxDefaults
	cipher      Cipher
	logger      *logrus.Logger
}

// Option configures a Base.
type Option func(*Base)

// WithID sets the codec id; a non empty sub id gives "id/sub" while the
// match id stays id.
func WithID(id, sub string) Option {
	return func(b *Base) {
		b.id, b.matchID = id, id
		if sub != "" {
			b.id = id + "/" + sub
		}
	}
}

// WithFID sets codec id and match id independently.
func WithFID(id, matchID string) Option {
	return func(b *Base) { b.id, b.matchID = id, matchID }
}

func WithHeader(header ...byte) Option {
	return WithHeaderAt(0, header...)
}

// WithHeaderAt places the header after start leading payload bytes.
func WithHeaderAt(start int, header ...byte) Option {
	return func(b *Base) { b.header, b.headerStart = header, start }
}

func WithFooter(footer ...byte) Option {
	return func(b *Base) { b.footer = footer }
}

// WithPrefix sets the clear text bytes expected at the start of the decrypted payload.
func WithPrefix(prefix ...byte) Option {
	return func(b *Base) { b.prefix = prefix }
}

// WithBLE sets the Flags value and AD type of emitted advertisements.
func WithBLE(adFlag, bleType byte) Option {
	return func(b *Base) { b.adFlag, b.bleType = adFlag, bleType }
}

func WithTranslators(ts ...*Translator) Option {
	return func(b *Base) { b.translators = append(b.translators, ts...) }
}

// WithReverseOnly adds translators used only to decode.
func WithReverseOnly(ts ...*Translator) Option {
	return func(b *Base) {
		for _, t := range ts {
			b.translators = append(b.translators, t.NoDirect())
		}
	}
}

// WithTx sets the transmit counter step and maximum.
func WithTx(step, maxCount uint16) Option {
	return func(b *Base) { b.txStep, b.txMax = step, maxCount }
}

func WithDefaults(d TxDefaults) Option {
	return func(b *Base) { b.defaults = d }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(b *Base) { b.logger = logger }
}

// DefaultTx are the transmit defaults of most codecs.
var DefaultTx = TxDefaults{Repeat: 9, Interval: 20 * time.Millisecond, Duration: 200 * time.Millisecond}

// New builds a codec around a cipher.
func New(cipher Cipher, opts ...Option) *Base {
	b := &Base{
		cipher:   cipher,
		txStep:   1,
		txMax:    0xFF,
		defaults: DefaultTx,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logrus.New()
	}
	return b
}

func (b *Base) ID() string      { return b.id }
func (b *Base) MatchID() string { return b.matchID }

// Header returns the header and its start position.
func (b *Base) Header() ([]byte, int) { return b.header, b.headerStart }

func (b *Base) Prefix() []byte { return b.prefix }

func (b *Base) Defaults() TxDefaults { return b.defaults }

func (b *Base) Translators() []*Translator { return b.translators }

// NextTx advances the transmit counter, wrapping after txMax.
func (b *Base) NextTx(conf *DeviceConfig) {
	conf.TxCount = uint16((int(conf.TxCount) + int(b.txStep)) % (int(b.txMax) + 1))
}

// DecodeAdv reverses EncodeAdvs; rejections are logged at trace level and
// reported as false.
func (b *Base) DecodeAdv(adv Advertisement) (EncoderCommand, DeviceConfig, bool) {
	cmd, conf, err := b.decode(adv)
	if err != nil {
		if b.logger.IsLevelEnabled(logrus.TraceLevel) {
			b.logger.WithField("codec", b.id).Tracef("decode rejected: %v", err)
		}
		return EncoderCommand{}, DeviceConfig{}, false
	}
	return cmd, conf, true
}

func (b *Base) decode(adv Advertisement) (EncoderCommand, DeviceConfig, error) {
	var zc EncoderCommand
	var zd DeviceConfig
	if err := ExpectEq("BLE Type", int(b.bleType), int(adv.Type)); err != nil {
		return zc, zd, err
	}
	raw := adv.Raw
	hsp, hl, fl := b.headerStart, len(b.header), len(b.footer)
	if err := ExpectEq("Length", b.cipher.Len()+hsp, len(raw)-hl-fl); err != nil {
		return zc, zd, err
	}
	if err := ExpectPrefix("Header", b.header, raw[hsp:hsp+hl]); err != nil {
		return zc, zd, err
	}
	if fl > 0 {
		if err := ExpectPrefix("Footer", b.footer, raw[len(raw)-fl:]); err != nil {
			return zc, zd, err
		}
	}
	payload := slices.Concat(raw[:hsp], raw[hsp+hl:len(raw)-fl])
	dec, err := b.cipher.Decrypt(payload)
	if err != nil {
		return zc, zd, err
	}
	if err := ExpectPrefix("Prefix", b.prefix, dec); err != nil {
		return zc, zd, err
	}
	if len(dec) < len(b.prefix) {
		return zc, zd, &MismatchError{What: "Decoded length", Want: fmt.Sprint(len(b.prefix)), Got: fmt.Sprint(len(dec))}
	}
	return b.cipher.ToEnc(dec[len(b.prefix):])
}

// EncodeAdv builds the single advertisement carrying cmd.
func (b *Base) EncodeAdv(cmd EncoderCommand, conf DeviceConfig) (Advertisement, error) {
	buf := b.cipher.Encrypt(slices.Concat(b.prefix, b.cipher.FromEnc(cmd, conf)))
	hsp := b.headerStart
	if hsp > len(buf) {
		return Advertisement{}, fmt.Errorf("%w: %s: payload shorter than header position", ErrEncode, b.id)
	}
	raw := slices.Concat(buf[:hsp], b.header, buf[hsp:], b.footer)
	return Advertisement{Type: b.bleType, Raw: raw, Flag: b.adFlag}, nil
}

func (b *Base) EncodeAdvs(cmd EncoderCommand, conf DeviceConfig) ([]Advertisement, error) {
	adv, err := b.EncodeAdv(cmd, conf)
	if err != nil {
		return nil, err
	}
	return []Advertisement{adv}, nil
}

// EntToEnc runs every direct translator matching ent.
func (b *Base) EntToEnc(ent EntityAttrs) []EncoderCommand {
	var out []EncoderCommand
	for _, t := range b.translators {
		if t.MatchesEnt(ent) {
			out = append(out, t.EntToEnc(ent))
		}
	}
	return out
}

// EncToEnt runs every reverse translator matching cmd.
func (b *Base) EncToEnt(cmd EncoderCommand) []EntityAttrs {
	var out []EntityAttrs
	for _, t := range b.translators {
		if t.MatchesEnc(cmd) {
			out = append(out, t.EncToEnt(cmd))
		}
	}
	return out
}

// SupportedFeatures lists, per entity index of baseType, the sub types
// reachable through the translators. Unsupported indexes are nil.
func (b *Base) SupportedFeatures(baseType string) []Features {
	feats := make([]Features, maxEntityIndex)
	for _, t := range b.translators {
		bt, idx, st := t.Ent.Features()
		if bt != baseType || st == "" || idx < 0 || idx >= maxEntityIndex {
			continue
		}
		if feats[idx] == nil {
			feats[idx] = Features{AttrSubType: {st}}
		} else if !slices.Contains(feats[idx][AttrSubType], any(st)) {
			feats[idx][AttrSubType] = append(feats[idx][AttrSubType], st)
		}
	}
	return feats
}

// Equal reports whether two advertisements lists carry the same payloads.
func Equal(a, b []Advertisement) bool {
	return slices.EqualFunc(a, b, func(x, y Advertisement) bool {
		return x.Type == y.Type && bytes.Equal(x.Raw, y.Raw)
	})
}
