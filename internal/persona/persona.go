package persona

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"persona-chat/internal/config"
)

const (
	DefaultSpeaker            = "Dava"
	DefaultTargetContact      = "sopia"
	DefaultIntimateSalutation = "sayang"

	DefaultTone = "Bahasa sehari-hari (aku–kamu), santai, sopan, hangat. " +
		"Empatik, to the point, nggak lebay, nggak puitis."

	DefaultTermsOfUse = "Jaga privasi. Jangan minta atau kasih data sensitif tanpa izin. " +
		"Kalau topiknya berisiko (medis, keuangan, hukum, krisis), arahkan ke bantuan profesional."
)

var (
	DefaultCoreValues = []string{
		"peduli", "ramah", "sopan", "dewasa", "pengertian", "jujur", "realistis", "tenang",
	}

	DefaultNicknames = map[string]string{"sopia": "Sopi"}
)

const promptTemplate = `Kamu {{.Speaker}}. Ngobrol sama {{.Target}} kayak temen dekat yang peduli dan bisa dipercaya.

Gaya bicara:
- {{.Tone}}
- Nilai yang dijaga: {{.Values}}.
- Pakai kata sederhana. Maksimal satu emoji. Hindari tanda seru berlebihan.

Cara ngobrol:
- Sapa pakai "{{.Salutation}}" atau nama {{.Target}} sesuai konteks; jangan berlebihan, tetap sopan.
- Dengerin dulu, validasi perasaannya singkat, tanya mau dibantu apa, lalu kasih opsi yang realistis dan simpel.
- Boleh pakai analogi ringan kalau pas, seperlunya aja.
- Hindari sarkas, gombal, ceramah panjang, dan motivasi klise.

Batasan:
- {{.Terms}}
- Jangan kasih diagnosa. Kalau darurat atau berbahaya, minta {{.Target}} menghubungi orang tepercaya atau layanan profesional.

Output:
- Ringkas dan jelas (sekitar 2 sampai 6 kalimat).
- Kalau perlu langkah, kasih 1 sampai 3 poin pendek.
- Boleh tutup dengan ajakan ringan buat lanjut ngobrol.
`

// Builder renders the persona system prompt.
type Builder struct {
	speaker            string
	target             string
	defaultSalutation  string
	intimateSalutation string
	allowIntimate      bool
	nicknames          map[string]string
	values             string
	tone               string
	terms              string
	tmpl               *template.Template
}

// Options overrides per-request prompt inputs.
type Options struct {
	Contact    string
	Salutation string
	// AllowIntimate overrides the configured flag when non-nil.
	AllowIntimate *bool
}

// New builds a Builder, filling unset fields with package defaults.
func New(cfg config.PersonaConfig) (*Builder, error) {
	tmpl, err := template.New("persona").Option("missingkey=error").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse persona template: %w", err)
	}

	nicknames := make(map[string]string, len(DefaultNicknames)+len(cfg.Nicknames))
	for k, v := range DefaultNicknames {
		nicknames[k] = v
	}
	for k, v := range cfg.Nicknames {
		nicknames[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	values := cfg.CoreValues
	if len(values) == 0 {
		values = DefaultCoreValues
	}

	return &Builder{
		speaker:            firstNonEmpty(cfg.Speaker, DefaultSpeaker),
		target:             firstNonEmpty(cfg.TargetContact, DefaultTargetContact),
		defaultSalutation:  strings.TrimSpace(cfg.DefaultSalutation),
		intimateSalutation: firstNonEmpty(cfg.IntimateSalutation, DefaultIntimateSalutation),
		allowIntimate:      cfg.AllowIntimate,
		nicknames:          nicknames,
		values:             strings.Join(values, ", "),
		tone:               firstNonEmpty(cfg.Tone, DefaultTone),
		terms:              firstNonEmpty(cfg.TermsOfUse, DefaultTermsOfUse),
		tmpl:               tmpl,
	}, nil
}

// TargetContact is the contact used when a request names none.
func (b *Builder) TargetContact() string {
	return b.target
}

// DisplayName capitalises a contact for greetings and page titles.
func DisplayName(contact string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(contact))
}

// Salutation resolves how the target is addressed: an explicit override wins,
// then the intimate salutation when allowed, then the configured default, the
// nickname, and finally the capitalised contact name.
func (b *Builder) Salutation(contact string, opts Options) string {
	if s := strings.TrimSpace(opts.Salutation); s != "" {
		return s
	}

	allow := b.allowIntimate
	if opts.AllowIntimate != nil {
		allow = *opts.AllowIntimate
	}
	if allow {
		return b.intimateSalutation
	}

	if b.defaultSalutation != "" {
		return b.defaultSalutation
	}
	if nick, ok := b.nicknames[strings.ToLower(contact)]; ok && nick != "" {
		return nick
	}
	return DisplayName(contact)
}

// Build renders the system prompt. It is deterministic for a given Builder
// and Options.
func (b *Builder) Build(opts Options) string {
	target := firstNonEmpty(opts.Contact, b.target)

	data := struct {
		Speaker    string
		Target     string
		Salutation string
		Tone       string
		Values     string
		Terms      string
	}{
		Speaker:    b.speaker,
		Target:     target,
		Salutation: b.Salutation(target, opts),
		Tone:       b.tone,
		Values:     b.values,
		Terms:      b.terms,
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		// The template is fixed and the data is a plain struct.
		panic(fmt.Sprintf("render persona template: %v", err))
	}
	return strings.TrimSpace(buf.String())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
