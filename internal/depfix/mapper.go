package depfix

import "strings"

// Mapper maps an import name onto an installable package name.
// decided is false when the mapper has no opinion; pkg is "" when the
// module needs nothing installed.
type Mapper interface {
	Map(module string) (pkg string, decided bool)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc func(module string) (string, bool)

// Map calls f.
func (f MapperFunc) Map(module string) (string, bool) {
	return f(module)
}

// Chain consults mappers in order; the first decision wins.
type Chain []Mapper

// Map implements Mapper.
func (c Chain) Map(module string) (string, bool) {
	for _, m := range c {
		if pkg, ok := m.Map(module); ok {
			return pkg, true
		}
	}
	return "", false
}

// Table is a static import-name to package-name mapping. An empty value
// marks a module that ships with the interpreter.
type Table map[string]string

// Map implements Mapper.
func (t Table) Map(module string) (string, bool) {
	pkg, ok := t[module]
	return pkg, ok
}

// HyphenMapper turns snake_case import names into hyphenated package names.
type HyphenMapper struct{}

// Map implements Mapper.
func (HyphenMapper) Map(module string) (string, bool) {
	if !strings.Contains(module, "_") {
		return "", false
	}
	return strings.ReplaceAll(module, "_", "-"), true
}

// IdentityMapper installs the module under its own name.
type IdentityMapper struct{}

// Map implements Mapper.
func (IdentityMapper) Map(module string) (string, bool) {
	return module, module != ""
}

// DefaultChain is the built-in mapper chain.
func DefaultChain() Chain {
	return Chain{KnownPackages(), HyphenMapper{}, IdentityMapper{}}
}

// KnownPackages returns the built-in table of third-party import names
// whose package names differ, plus standard-library modules.
func KnownPackages() Table {
	t := Table{
		"aiohttp_socks":       "aiohttp-socks",
		"aiohttp_socks_proxy": "aiohttp-socks",
		"aiohttp_proxy":       "aiohttp-proxy",
		"aiohttp":             "aiohttp",
		"requests":            "requests",
		"urllib3":             "urllib3",
		"certifi":             "certifi",
		"charset_normalizer":  "charset-normalizer",
		"idna":                "idna",
		"cryptography":        "cryptography",
		"Crypto":              "pycryptodome",
		"Cryptodome":          "pycryptodomex",
		"lxml":                "lxml",
		"bs4":                 "beautifulsoup4",
		"selenium":            "selenium",
		"webdriver_manager":   "webdriver-manager",
		"fake_useragent":      "fake-useragent",
		"user_agents":         "user-agents",
		"pytz":                "pytz",
		"dateutil":            "python-dateutil",
		"PIL":                 "Pillow",
		"cv2":                 "opencv-python",
		"numpy":               "numpy",
		"pandas":              "pandas",
		"matplotlib":          "matplotlib",
		"scipy":               "scipy",
		"sklearn":             "scikit-learn",
		"yaml":                "PyYAML",
		"socks":               "PySocks",
		"openai":              "openai",
		"anthropic":           "anthropic",
		"boto3":               "boto3",
		"redis":               "redis",
		"pymongo":             "pymongo",
		"sqlalchemy":          "sqlalchemy",
		"psycopg2":            "psycopg2-binary",
		"mysql":               "mysql-connector-python",
		"pkg_resources":       "setuptools",
		"setuptools":          "setuptools",
		"pip":                 "pip",
		"wheel":               "wheel",
	}
	for _, name := range stdlibModules {
		t[name] = ""
	}
	return t
}

// stdlibModules ship with CPython and can never be installed with pip.
var stdlibModules = []string{
	"abc", "argparse", "asyncio", "atexit", "base64", "bz2", "codecs",
	"collections", "concurrent", "configparser", "contextlib", "copy", "csv",
	"ctypes", "datetime", "dbm", "distutils", "ensurepip", "faulthandler",
	"functools", "gc", "getopt", "gzip", "hashlib", "hmac", "importlib",
	"inspect", "itertools", "json", "logging", "lzma", "math", "mmap",
	"modulefinder", "multiprocessing", "operator", "os", "pdb", "pickle",
	"pkgutil", "platform", "profile", "pstats", "queue", "random", "re",
	"readline", "rlcompleter", "runpy", "sched", "select", "selectors",
	"shelve", "shlex", "signal", "site", "socket", "sqlite3", "ssl",
	"stringprep", "struct", "subprocess", "sys", "sysconfig", "tarfile",
	"threading", "time", "timeit", "tkinter", "trace", "traceback",
	"tracemalloc", "turtle", "unicodedata", "uuid", "venv", "warnings",
	"zipapp", "zipfile", "zlib",
}
