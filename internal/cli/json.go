package cli

import "github.com/tidwall/pretty"

// jsonStyle colors keys, strings, booleans, numbers and null separately.
var jsonStyle = &pretty.Style{
	Key:    [2]string{Blue, ResetCode},
	String: [2]string{Green, ResetCode},
	Number: [2]string{Purple, ResetCode},
	True:   [2]string{Yellow, ResetCode},
	False:  [2]string{Yellow, ResetCode},
	Null:   [2]string{DimCode, ResetCode},
}

// HighlightJSON colors a JSON document for the terminal without changing
// its layout. It is a no-op when color is disabled.
func HighlightJSON(doc string) string {
	if !Enabled() {
		return doc
	}
	return string(pretty.Color([]byte(doc), jsonStyle))
}
