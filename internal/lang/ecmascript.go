package lang

import (
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

func init() {
	Languages["typescript"] = &Language{
		Name:       "typescript",
		Family:     FamilyECMAScript,
		Extensions: []string{".ts", ".mts", ".cts"},
		lang:       typescript.GetLanguage(),
	}
	Languages["tsx"] = &Language{
		Name:       "tsx",
		Family:     FamilyECMAScript,
		Extensions: []string{".tsx"},
		lang:       tsx.GetLanguage(),
	}
	Languages["javascript"] = &Language{
		Name:       "javascript",
		Family:     FamilyECMAScript,
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		lang:       javascript.GetLanguage(),
	}
}
