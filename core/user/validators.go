package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/rpconcours/concours/core"
	appfs "github.com/rpconcours/concours/fs"
)

var (
	userRoleTag  = "userrole"
	userRoleText = "invalid role"

	academyRoleTag  = "academyrole"
	academyRoleText = "invalid academy role"

	pwdMinLen   = 8
	pwdMaxSim   = .7
	specialRune = regexp.MustCompile("[^A-Za-z0-9]")

	commonPasswords     = make([]string, 0, 64)
	commonPwdsOnce      sync.Once
	commonPasswordsPath = "assets/common-passwords.txt.gz"
)

// passwordRule is one check of the password policy; ok reports whether pwd passes it.
type passwordRule struct {
	tag  string
	text string
	ok   func(pwd string, attrs []string) bool
}

// passwordPolicy is applied in order; only the first failing rule is reported.
var passwordPolicy = []passwordRule{
	{
		tag:  "pwdminlen",
		text: fmt.Sprintf("password must contain at least %d characters", pwdMinLen),
		ok:   func(pwd string, _ []string) bool { return utf8.RuneCountInString(pwd) >= pwdMinLen },
	},
	{
		tag:  "pwdnospace",
		text: "password must not contain whitespace",
		ok:   func(pwd string, _ []string) bool { return strings.IndexFunc(pwd, unicode.IsSpace) < 0 },
	},
	{
		tag:  "pwdnotallnum",
		text: "password cannot be entirely numeric",
		ok: func(pwd string, _ []string) bool {
			return strings.IndexFunc(pwd, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0
		},
	},
	{
		tag:  "pwdcplx",
		text: "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character",
		ok: func(pwd string, _ []string) bool {
			return strings.IndexFunc(pwd, unicode.IsUpper) >= 0 &&
				strings.IndexFunc(pwd, unicode.IsLower) >= 0 &&
				strings.IndexFunc(pwd, unicode.IsDigit) >= 0 &&
				specialRune.MatchString(pwd)
		},
	},
	{
		tag:  "pwdtoosim",
		text: "password cannot be similar to user attributes",
		ok: func(pwd string, attrs []string) bool {
			for _, attr := range attrs {
				if similarity(pwd, attr) >= pwdMaxSim {
					return false
				}
			}
			return true
		},
	},
	{
		tag:  "pwdnocommon",
		text: "password is too common",
		ok: func(pwd string, _ []string) bool {
			lpwd := strings.ToLower(pwd)
			idx := sort.SearchStrings(commonPasswords, lpwd)
			return idx == len(commonPasswords) || commonPasswords[idx] != lpwd
		},
	},
}

// InitValidators registers the user validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(userRoleTag, oneOfValidation(AllRoles))
	core.RegisterCustomTranslation(validate, translator, userRoleTag, userRoleText)

	_ = validate.RegisterValidation(academyRoleTag, oneOfValidation(AllAcademyRoles))
	core.RegisterCustomTranslation(validate, translator, academyRoleTag, academyRoleText)

	validate.RegisterStructValidation(userStructValidation, NewUser{}, UpdateUser{})
	for _, rule := range passwordPolicy {
		core.RegisterCustomTranslation(validate, translator, rule.tag, rule.text)
	}
}

// LoadCommonPasswords loads the embedded list of common passwords rejected by the password policy.
func LoadCommonPasswords(logger core.Logger) {
	commonPwdsOnce.Do(func() {
		file, err := appfs.FS.Open(commonPasswordsPath)
		if err != nil {
			logger.Error("user.LoadCommonPasswords: opening "+commonPasswordsPath, err)
			return
		}
		defer func() { _ = file.Close() }()

		gzRdr, err := gzip.NewReader(file)
		if err != nil {
			logger.Error("user.LoadCommonPasswords: reading "+commonPasswordsPath, err)
			return
		}
		scanner := bufio.NewScanner(gzRdr)
		for scanner.Scan() {
			if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
				commonPasswords = append(commonPasswords, pwd)
			}
		}
		sort.Strings(commonPasswords)
	})
}

func oneOfValidation(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		val := fl.Field().String()
		for _, a := range allowed {
			if val == a {
				return true
			}
		}
		return false
	}
}

// userStructValidation applies the password policy to NewUser and UpdateUser.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		validatePassword(sl, usr.Password, usr.FullName, usr.Username, usr.Email, usr.DiscordUsername)
	case UpdateUser:
		if usr.Password == "" {
			return
		}
		attrs := []string{usr.FullName, usr.Username, usr.Email}
		if usr.DiscordUsername != nil {
			attrs = append(attrs, *usr.DiscordUsername)
		}
		validatePassword(sl, usr.Password, attrs...)
	}
}

func validatePassword(sl validator.StructLevel, pwd string, attrs ...string) {
	for _, rule := range passwordPolicy {
		if !rule.ok(pwd, attrs) {
			sl.ReportError(pwd, "password", "Password", rule.tag, "")
			return
		}
	}
}

// similarity is the quick diff ratio of two strings, case insensitive; empty attributes never match.
func similarity(pwd, attr string) float64 {
	if attr == "" {
		return 0
	}
	a := strings.Split(strings.ToLower(pwd), "")
	b := strings.Split(strings.ToLower(attr), "")
	return difflib.NewMatcher(a, b).QuickRatio()
}
