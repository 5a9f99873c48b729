package codec

import "fmt"

type attrCopy struct {
	attr   string
	fields []Field
	factor float64
	modulo int
}

// Translator binds an entity matcher to an encoder matcher and copies
// attribute values into command fields (and back).
type Translator struct {
	Ent       *EntityMatcher
	Enc       *EncoderMatcher
	copies    []attrCopy
	direct    bool
	reverse   bool
	onForward func(ent EntityAttrs, enc *EncoderCommand)
	onReverse func(enc EncoderCommand, ent *EntityAttrs)
}

// Trans creates a bidirectional translator.
func Trans(ent *EntityMatcher, enc *EncoderMatcher) *Translator {
	return &Translator{Ent: ent, Enc: enc, direct: true, reverse: true}
}

// Copy stores int(factor*attr) in field, modulo 256.
func (t *Translator) Copy(attr string, field Field, factor float64) *Translator {
	return t.SplitCopy(attr, []Field{field}, factor, 256)
}

// SplitCopy spreads int(factor*attr) over fields, least significant first.
func (t *Translator) SplitCopy(attr string, fields []Field, factor float64, modulo int) *Translator {
	t.copies = append(t.copies, attrCopy{attr: attr, fields: fields, factor: factor, modulo: modulo})
	return t
}

// NoDirect disables the entity to command direction.
func (t *Translator) NoDirect() *Translator {
	t.direct = false
	return t
}

// NoReverse disables the command to entity direction.
func (t *Translator) NoReverse() *Translator {
	t.reverse = false
	return t
}

// OnForward registers a post processing step for EntToEnc.
func (t *Translator) OnForward(fn func(ent EntityAttrs, enc *EncoderCommand)) *Translator {
	t.onForward = fn
	return t
}

// OnReverse registers a post processing step for EncToEnt.
func (t *Translator) OnReverse(fn func(enc EncoderCommand, ent *EntityAttrs)) *Translator {
	t.onReverse = fn
	return t
}

func (t *Translator) MatchesEnt(ent EntityAttrs) bool {
	return t.direct && t.Ent.Matches(ent)
}

func (t *Translator) MatchesEnc(enc EncoderCommand) bool {
	return t.reverse && t.Enc.Matches(enc)
}

// EntToEnc converts an entity change into a command.
func (t *Translator) EntToEnc(ent EntityAttrs) EncoderCommand {
	enc := t.Enc.Create()
	for _, c := range t.copies {
		v := int(c.factor * ent.Float(c.attr))
		for _, f := range c.fields {
			enc.Set(f, uint8(floorMod(v, c.modulo)))
			v = floorDiv(v, c.modulo)
		}
	}
	if t.onForward != nil {
		t.onForward(ent, &enc)
	}
	return enc
}

// EncToEnt converts a command into an entity change.
func (t *Translator) EncToEnt(enc EncoderCommand) EntityAttrs {
	ent := t.Ent.Create()
	if ent.Attrs == nil {
		ent.Attrs = make(map[string]any)
	}
	for _, c := range t.copies {
		v := 0
		for i := len(c.fields) - 1; i >= 0; i-- {
			v = v*c.modulo + int(enc.Get(c.fields[i]))
		}
		ent.Attrs[c.attr] = float64(v) / c.factor
	}
	if t.onReverse != nil {
		t.onReverse(enc, &ent)
	}
	return ent
}

func (t *Translator) String() string {
	return fmt.Sprintf("%s <=> %s", t.Ent, t.Enc)
}

func floorMod(v, m int) int {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

func floorDiv(v, m int) int {
	q := v / m
	if (v%m != 0) && ((v < 0) != (m < 0)) {
		q--
	}
	return q
}
