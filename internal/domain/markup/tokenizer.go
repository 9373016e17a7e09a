// Package markup превращает размеченный текст секции в последовательность
// фрагментов для отображения.
//
// Поддерживаются три конструкции, в порядке обработки:
//
//  1. {name} - подстановка значения из словаря (один проход, без рекурсии)
//  2. $1,000 / $1,000+ / $500–$2,000 / $5.99 - денежные суммы
//  3. **текст** - выделение (без вложенности)
//
// Токенизатор никогда не возвращает ошибку: несбалансированная разметка
// остаётся обычным текстом.
package markup

import (
	"regexp"
	"strings"
)

// FragmentKind - тип фрагмента.
type FragmentKind string

const (
	FragmentPlain    FragmentKind = "plain"
	FragmentEmphasis FragmentKind = "emphasis"
	FragmentCurrency FragmentKind = "currency"
)

// Fragment - кусок текста для отображения.
type Fragment struct {
	Kind  FragmentKind `json:"kind"`
	Value string       `json:"value"`

	// Emphasized - сумма находится внутри выделения.
	Emphasized bool `json:"emphasized,omitempty"`
}

var (
	placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	// amount: $1,000 | $1000 | $5.99
	amount     = `\$(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?`
	currencyRe = regexp.MustCompile(amount + `(?:\s?[–-]\s?` + amount + `)?\+?`)

	// Содержимое не может содержать "**", одиночные звёздочки допустимы.
	emphasisRe = regexp.MustCompile(`\*\*([^*]+(?:\*[^*]+)*)\*\*`)
)

// Substitute заменяет {name} значениями из subs. Неизвестные
// плейсхолдеры остаются как есть. Подставленные значения повторно
// не сканируются.
func Substitute(text string, subs map[string]string) string {
	if len(subs) == 0 || !strings.Contains(text, "{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := subs[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Render выполняет подстановку и разбивает текст на фрагменты.
func Render(text string, subs map[string]string) []Fragment {
	return Tokenize(Substitute(text, subs))
}

// Tokenize разбивает текст на фрагменты одним проходом слева направо.
// Каждое выражение выполняется по тексту один раз; кандидаты сливаются
// по позиции начала. Побеждает совпадение, начинающееся раньше; при
// равенстве - сумма. Кандидаты, перекрытые уже принятым фрагментом,
// отбрасываются.
func Tokenize(text string) []Fragment {
	curs := currencyRe.FindAllStringIndex(text, -1)
	emphs := emphasisRe.FindAllStringSubmatchIndex(text, -1)

	var out []Fragment
	pos := 0
	for {
		for len(curs) > 0 && curs[0][0] < pos {
			curs = curs[1:]
		}
		for len(emphs) > 0 && emphs[0][0] < pos {
			emphs = emphs[1:]
		}

		switch {
		case len(curs) == 0 && len(emphs) == 0:
			return appendFragment(out, Fragment{Kind: FragmentPlain, Value: text[pos:]})

		case len(curs) > 0 && (len(emphs) == 0 || curs[0][0] <= emphs[0][0]):
			c := curs[0]
			out = appendFragment(out, Fragment{Kind: FragmentPlain, Value: text[pos:c[0]]})
			out = appendFragment(out, Fragment{Kind: FragmentCurrency, Value: text[c[0]:c[1]]})
			pos = c[1]

		default:
			e := emphs[0]
			out = appendFragment(out, Fragment{Kind: FragmentPlain, Value: text[pos:e[0]]})
			out = appendEmphasis(out, text[e[2]:e[3]])
			pos = e[1]
		}
	}
}

// appendEmphasis разбирает содержимое выделения: разделители уже сняты,
// внутри ищутся только суммы.
func appendEmphasis(out []Fragment, inner string) []Fragment {
	pos := 0
	for _, loc := range currencyRe.FindAllStringIndex(inner, -1) {
		out = appendFragment(out, Fragment{Kind: FragmentEmphasis, Value: inner[pos:loc[0]]})
		out = appendFragment(out, Fragment{Kind: FragmentCurrency, Value: inner[loc[0]:loc[1]], Emphasized: true})
		pos = loc[1]
	}
	return appendFragment(out, Fragment{Kind: FragmentEmphasis, Value: inner[pos:]})
}

// appendFragment пропускает пустые фрагменты и склеивает соседние
// фрагменты одного вида.
func appendFragment(out []Fragment, f Fragment) []Fragment {
	if f.Value == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Kind == f.Kind && out[n-1].Emphasized == f.Emphasized && f.Kind != FragmentCurrency {
		out[n-1].Value += f.Value
		return out
	}
	return append(out, f)
}

// PlainText склеивает фрагменты обратно в текст без разметки.
func PlainText(frags []Fragment) string {
	var b strings.Builder
	for _, f := range frags {
		b.WriteString(f.Value)
	}
	return b.String()
}
