package fhirpath

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

// stringFunc registers a function on a String input.
func stringFunc(name string, body func(s String, args []Collection) (Collection, bool, error), params ...Param) Implementation {
	return define(fn(name, SingletonInput, params...).on("String"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		s, err := argOf[String](name, input)
		if err != nil {
			return fail(err)
		}
		return body(s, args)
	})
}

func stringBuiltins() []Implementation {
	return []Implementation{
		stringFunc("indexOf", func(s String, args []Collection) (Collection, bool, error) {
			sub, err := argOf[String]("indexOf", args[0])
			if err != nil {
				return fail(err)
			}
			i := strings.Index(string(s), string(sub))
			if i < 0 {
				return done(Integer(-1))
			}
			return done(Integer(utf8.RuneCountInString(string(s)[:i])))
		}, param("substring", "String")),
		stringFunc("lastIndexOf", func(s String, args []Collection) (Collection, bool, error) {
			sub, err := argOf[String]("lastIndexOf", args[0])
			if err != nil {
				return fail(err)
			}
			i := strings.LastIndex(string(s), string(sub))
			if i < 0 {
				return done(Integer(-1))
			}
			return done(Integer(utf8.RuneCountInString(string(s)[:i])))
		}, param("substring", "String")),
		define(fn("substring", SingletonInput, param("start", "Integer"), optional(param("length", "Integer"))).on("String").keepEmpty(), substring),
		stringFunc("startsWith", func(s String, args []Collection) (Collection, bool, error) {
			prefix, err := argOf[String]("startsWith", args[0])
			if err != nil {
				return fail(err)
			}
			return doneBool(strings.HasPrefix(string(s), string(prefix)))
		}, param("prefix", "String")),
		stringFunc("endsWith", func(s String, args []Collection) (Collection, bool, error) {
			suffix, err := argOf[String]("endsWith", args[0])
			if err != nil {
				return fail(err)
			}
			return doneBool(strings.HasSuffix(string(s), string(suffix)))
		}, param("suffix", "String")),
		stringFunc("contains", func(s String, args []Collection) (Collection, bool, error) {
			sub, err := argOf[String]("contains", args[0])
			if err != nil {
				return fail(err)
			}
			return doneBool(strings.Contains(string(s), string(sub)))
		}, param("substring", "String")),
		stringFunc("upper", func(s String, args []Collection) (Collection, bool, error) {
			return done(String(upperCaser.String(string(s))))
		}),
		stringFunc("lower", func(s String, args []Collection) (Collection, bool, error) {
			return done(String(lowerCaser.String(string(s))))
		}),
		stringFunc("replace", func(s String, args []Collection) (Collection, bool, error) {
			pattern, err := argOf[String]("replace", args[0])
			if err != nil {
				return fail(err)
			}
			substitution, err := argOf[String]("replace", args[1])
			if err != nil {
				return fail(err)
			}
			if pattern == "" {
				// the substitution surrounds every character
				var b strings.Builder
				b.WriteString(string(substitution))
				for _, r := range string(s) {
					b.WriteRune(r)
					b.WriteString(string(substitution))
				}
				return done(String(b.String()))
			}
			return done(String(strings.ReplaceAll(string(s), string(pattern), string(substitution))))
		}, param("pattern", "String"), param("substitution", "String")),
		stringFunc("matches", func(s String, args []Collection) (Collection, bool, error) {
			re, err := compileRegex("matches", args[0], false)
			if err != nil {
				return fail(err)
			}
			return doneBool(re.MatchString(string(s)))
		}, param("regex", "String")),
		stringFunc("matchesFull", func(s String, args []Collection) (Collection, bool, error) {
			re, err := compileRegex("matchesFull", args[0], true)
			if err != nil {
				return fail(err)
			}
			return doneBool(re.MatchString(string(s)))
		}, param("regex", "String")),
		stringFunc("replaceMatches", func(s String, args []Collection) (Collection, bool, error) {
			pattern, err := argOf[String]("replaceMatches", args[0])
			if err != nil {
				return fail(err)
			}
			substitution, err := argOf[String]("replaceMatches", args[1])
			if err != nil {
				return fail(err)
			}
			if pattern == "" {
				return done(s)
			}
			re, err := compileRegex("replaceMatches", args[0], false)
			if err != nil {
				return fail(err)
			}
			return done(String(re.ReplaceAllString(string(s), string(substitution))))
		}, param("regex", "String"), param("substitution", "String")),
		stringFunc("length", func(s String, args []Collection) (Collection, bool, error) {
			return done(Integer(utf8.RuneCountInString(string(s))))
		}),
		stringFunc("toChars", func(s String, args []Collection) (Collection, bool, error) {
			var chars Collection
			for _, r := range string(s) {
				chars = append(chars, String(r))
			}
			return chars, true, nil
		}),
		stringFunc("trim", func(s String, args []Collection) (Collection, bool, error) {
			return done(String(strings.TrimSpace(string(s))))
		}),
		stringFunc("split", func(s String, args []Collection) (Collection, bool, error) {
			sep, err := argOf[String]("split", args[0])
			if err != nil {
				return fail(err)
			}
			var parts Collection
			for _, p := range strings.Split(string(s), string(sep)) {
				parts = append(parts, String(p))
			}
			return parts, true, nil
		}, param("separator", "String")),
		define(fn("join", CollectionInput, optional(param("separator", "String"))), join),
		stringFunc("encode", func(s String, args []Collection) (Collection, bool, error) {
			format, err := argOf[String]("encode", args[0])
			if err != nil {
				return fail(err)
			}
			switch format {
			case "hex":
				return done(String(hex.EncodeToString([]byte(s))))
			case "base64":
				return done(String(base64.StdEncoding.EncodeToString([]byte(s))))
			case "urlbase64":
				return done(String(base64.URLEncoding.EncodeToString([]byte(s))))
			}
			return fail(evaluationError("encode", "unsupported encoding %q", format))
		}, param("format", "String")),
		stringFunc("decode", func(s String, args []Collection) (Collection, bool, error) {
			format, err := argOf[String]("decode", args[0])
			if err != nil {
				return fail(err)
			}
			var decoded []byte
			switch format {
			case "hex":
				decoded, err = hex.DecodeString(string(s))
			case "base64":
				decoded, err = base64.StdEncoding.DecodeString(string(s))
			case "urlbase64":
				decoded, err = base64.URLEncoding.DecodeString(string(s))
			default:
				return fail(evaluationError("decode", "unsupported encoding %q", format))
			}
			if err != nil {
				return fail(evaluationError("decode", "invalid %s input: %v", format, err))
			}
			return done(String(decoded))
		}, param("format", "String")),
		stringFunc("escape", func(s String, args []Collection) (Collection, bool, error) {
			target, err := argOf[String]("escape", args[0])
			if err != nil {
				return fail(err)
			}
			switch target {
			case "html":
				return done(String(escapeHTML(string(s))))
			case "json":
				return done(String(jsonEscaper.Replace(string(s))))
			}
			return fail(evaluationError("escape", "unsupported escape target %q", target))
		}, param("target", "String")),
		stringFunc("unescape", func(s String, args []Collection) (Collection, bool, error) {
			target, err := argOf[String]("unescape", args[0])
			if err != nil {
				return fail(err)
			}
			switch target {
			case "html":
				return done(String(html.UnescapeString(string(s))))
			case "json":
				var unescaped string
				if err := json.Unmarshal([]byte(`"`+string(s)+`"`), &unescaped); err != nil {
					return fail(evaluationError("unescape", "invalid json string: %v", err))
				}
				return done(String(unescaped))
			}
			return fail(evaluationError("unescape", "unsupported escape target %q", target))
		}, param("target", "String")),
	}
}

func substring(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
	if len(args[0]) == 0 {
		return done()
	}
	s, err := argOf[String]("substring", input)
	if err != nil {
		return fail(err)
	}
	start, err := argOf[Integer]("substring", args[0])
	if err != nil {
		return fail(err)
	}
	runes := []rune(string(s))
	if start < 0 || int64(start) >= int64(len(runes)) {
		return done()
	}
	// an empty length behaves as if omitted
	length, given := optionalArg(args, 1)
	if !given || len(length) == 0 {
		return done(String(runes[start:]))
	}
	n, err := argOf[Integer]("substring", length)
	if err != nil {
		return fail(err)
	}
	if n <= 0 {
		return done(String(""))
	}
	end := min(int64(start)+int64(n), int64(len(runes)))
	return done(String(runes[start:end]))
}

func join(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
	var sep String
	if arg, given := optionalArg(args, 0); given {
		s, err := argOf[String]("join", arg)
		if err != nil {
			return fail(err)
		}
		sep = s
	}
	parts := make([]string, 0, len(input))
	for _, e := range input {
		s, ok := e.(String)
		if !ok {
			return fail(typeError("join", "expected String items, got %s", typeOf(e)))
		}
		parts = append(parts, string(s))
	}
	return done(String(strings.Join(parts, string(sep))))
}

// compileRegex applies the single line mode FHIRPath regular expressions use.
func compileRegex(name string, arg Collection, full bool) (*regexp.Regexp, error) {
	pattern, err := argOf[String](name, arg)
	if err != nil {
		return nil, err
	}
	expr := "(?s)" + string(pattern)
	if full {
		expr = "^(?s:" + string(pattern) + ")$"
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, evaluationError(name, "invalid regular expression: %v", err)
	}
	return re, nil
}

var (
	htmlEscaper = strings.NewReplacer(
		"<", "&lt;", ">", "&gt;", "&", "&amp;", `"`, "&quot;", "'", "&#39;",
	)
	jsonEscaper = strings.NewReplacer(
		`"`, `\"`, `\`, `\\`, "\n", `\n`, "\r", `\r`, "\t", `\t`, "\b", `\b`, "\f", `\f`,
	)
)

// escapeHTML also encodes characters outside of ASCII as numeric references.
func escapeHTML(s string) string {
	escaped := htmlEscaper.Replace(s)
	var b strings.Builder
	for _, r := range escaped {
		if r > 127 {
			fmt.Fprintf(&b, "&#%d;", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
