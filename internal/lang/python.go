package lang

import "github.com/smacker/go-tree-sitter/python"

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Family:     FamilyPython,
		Extensions: []string{".py", ".pyi"},
		lang:       python.GetLanguage(),
	}
}
