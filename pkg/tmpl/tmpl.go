package tmpl

import (
	"bytes"
	"fmt"
	"text/template"
)

func Render(name, text string, data interface{}) (string, error) {
	funcs := map[string]interface{}{}
	tpl := template.New(name).Option("missingkey=error").Funcs(funcs)
	tpl, err := tpl.Parse(text)
	if err != nil {
		return "", err
	}
	buf := &bytes.Buffer{}
	if err := tpl.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderArgs renders each element of a command line template.
func RenderArgs(name string, args []string, data interface{}) ([]string, error) {
	res := make([]string, 0, len(args))

	for i, a := range args {
		r, err := Render(fmt.Sprintf("%s[%d]", name, i), a, data)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}

	return res, nil
}
