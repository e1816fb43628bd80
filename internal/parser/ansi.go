package parser

// StripANSI removes escape sequences and control bytes from s, keeping line
// breaks and tabs. Backspace erases the previous byte. An escape sequence
// that never terminates swallows the rest of the input.
func StripANSI(s string) string {
	b := []byte(s)
	result := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		ch := b[i]
		switch {
		case ch == esc:
			end := sequenceEnd(b, i)
			if end < 0 {
				return string(result)
			}
			i = end - 1
		case ch == '\r':
		case ch == '\b':
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
		case (ch < 0x20 || ch == 0x7f) && ch != '\n' && ch != '\t':
		default:
			result = append(result, ch)
		}
	}
	return string(result)
}
