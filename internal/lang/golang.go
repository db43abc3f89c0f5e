package lang

import "github.com/smacker/go-tree-sitter/golang"

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Family:     FamilyGo,
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
	}
}
