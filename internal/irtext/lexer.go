package irtext

import "github.com/alecthomas/participle/v2/lexer"

// Lexer tokenizes the textual IR assembly format: one method per top-level
// "method" block, one "block" per basic block, one ";"-terminated
// instruction per line (the mandatory trailing ";" is what lets the parser
// tell an instruction mnemonic apart from the next block's "block" keyword
// without unbounded lookahead), modeled on grammar.KansoLexer's stateful
// rule-list shape.
var Lexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{"Comment", `//[^\n]*`, nil},
		{"Arrow", `->`, nil},
		{"Ident", `[a-zA-Z_][a-zA-Z0-9_]*`, nil},
		{"Integer", `-?[0-9]+`, nil},
		{"Punct", `[{}()\[\]:;,=%#.]`, nil},
		{"Whitespace", `[ \t\r\n]+`, nil},
	},
})
