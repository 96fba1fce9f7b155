package analysis

import (
	"regexp"
	"strings"
)

// vulnClasses is checked in order; injection classes come before the generic
// input-validation class so that "SQL injection via unvalidated input" stays sql-injection,
// and weak-crypto comes before hardcoded-secret so "weak password hashing" is not a secret.
var vulnClasses = []struct {
	name string
	re   *regexp.Regexp
}{
	{"sql-injection", regexp.MustCompile(`\bsql\b|sqli|sql[-_ ]?injection|raw[-_ ]?query|formatted[-_ ]?sql`)},
	{"command-injection", regexp.MustCompile(`command[-_ ]?injection|os[-_.]?system|subprocess|shell[-_ ]?(=\s*)?true|shell[-_ ]?injection|os[-_ ]?command|popen`)},
	{"code-injection", regexp.MustCompile(`\beval\b|eval[-_(]|\bexec\b|exec[-_(]|code[-_ ]?injection|arbitrary code|code execution|\brce\b`)},
	{"xss", regexp.MustCompile(`\bxss\b|cross[-_ ]?site[-_ ]?scripting|html[-_ ]?injection|innerhtml|unescaped`)},
	{"path-traversal", regexp.MustCompile(`path[-_ ]?traversal|directory[-_ ]?traversal|\.\./|file[-_ ]?inclusion`)},
	{"deserialization", regexp.MustCompile(`deserializ|pickle|yaml[-_.]load|unmarshal(l)?ing untrusted|marshal`)},
	{"ssrf", regexp.MustCompile(`\bssrf\b|server[-_ ]?side[-_ ]?request`)},
	{"xxe", regexp.MustCompile(`\bxxe\b|xml[-_ ]?external`)},
	{"open-redirect", regexp.MustCompile(`open[-_ ]?redirect`)},
	{"weak-crypto", regexp.MustCompile(`\bmd5\b|\bsha1\b|weak[-_ ]?(hash|crypto|cipher)|insecure[-_ ]?hash|password[-_ ]?hash|\bdes\b|\becb\b`)},
	{"hardcoded-secret", regexp.MustCompile(`hard[-_ ]?coded|secret|password|api[-_ ]?key|credential|\btoken\b`)},
	{"insecure-random", regexp.MustCompile(`insecure[-_ ]?random|predictable|\brandom\b`)},
	{"insecure-transport", regexp.MustCompile(`\bssl\b|\btls\b|certificate[-_ ]?verification|verify\s*=\s*false|cleartext|plain[-_ ]?http`)},
	{"debug-enabled", regexp.MustCompile(`debug[-_ ]?(mode|=\s*true|enabled)`)},
	{"input-validation", regexp.MustCompile(`input[-_ ]?validation|unvalidated|unsanitized|sanitiz|validat`)},
}

// cweClasses maps CWE identifiers onto the same class names. Tool findings carry
// CWE tags even when the rule id and message say nothing recognisable.
var cweClasses = map[string]string{
	"CWE-78":  "command-injection",
	"CWE-77":  "command-injection",
	"CWE-89":  "sql-injection",
	"CWE-94":  "code-injection",
	"CWE-95":  "code-injection",
	"CWE-79":  "xss",
	"CWE-22":  "path-traversal",
	"CWE-23":  "path-traversal",
	"CWE-502": "deserialization",
	"CWE-798": "hardcoded-secret",
	"CWE-259": "hardcoded-secret",
	"CWE-327": "weak-crypto",
	"CWE-328": "weak-crypto",
	"CWE-918": "ssrf",
	"CWE-611": "xxe",
	"CWE-601": "open-redirect",
	"CWE-330": "insecure-random",
	"CWE-338": "insecure-random",
	"CWE-295": "insecure-transport",
	"CWE-319": "insecure-transport",
	"CWE-489": "debug-enabled",
	"CWE-20":  "input-validation",
}

// ClassifyCWE returns the class of the first recognised CWE id, or "".
func ClassifyCWE(cwes []string) string {
	for _, id := range cwes {
		id, _, _ = strings.Cut(id, ":")
		id = strings.ToUpper(strings.TrimSpace(id))
		if !strings.HasPrefix(id, "CWE-") {
			id = "CWE-" + id
		}
		if c, ok := cweClasses[id]; ok {
			return c
		}
	}
	return ""
}

// Classify returns the vulnerability class of a finding. The headline (title or rule id)
// decides first; the longer description is only consulted when the headline is silent.
func Classify(headline, description string) string {
	if c := classOf(headline); c != "" {
		return c
	}
	return classOf(description)
}

func classOf(text string) string {
	t := strings.ToLower(text)
	if t == "" {
		return ""
	}
	for _, c := range vulnClasses {
		if c.re.MatchString(t) {
			return c.name
		}
	}
	return ""
}

// tokenSimilarity is the Jaccard index of the word sets of a and b.
func tokenSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for w := range ta {
		if tb[w] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "in": true, "on": true, "to": true,
	"and": true, "or": true, "is": true, "be": true, "can": true, "may": true, "this": true,
	"that": true, "with": true, "for": true, "by": true, "it": true, "use": true, "used": true,
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(w) < 3 || stopWords[w] {
			continue
		}
		out[w] = true
	}
	return out
}
