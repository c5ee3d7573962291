package main

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/view"
)

const consoleHelp = `commands:
  show                      print the document
  push <root> <json>        append a value to an array root
  set <root> <key> <json>   set an index of an array or a key of an object
  del <root> <key>          delete an index or a key
  help                      print this help`

// execute runs one console line against store and returns the text to print.
func execute(store *view.ObjectView, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	switch fields[0] {
	case "help":
		return consoleHelp, nil

	case "show":
		data, err := json.Marshal(store)
		return string(data), err

	case "push":
		parts := splitArgs(line, 3)
		if len(parts) < 3 {
			return "", errors.New("usage: push <root> <json>")
		}
		arr, ok := store.Array(parts[1])
		if !ok {
			return "", errors.Errorf("%s is not an array", parts[1])
		}
		value, err := decodeValue(parts[2])
		if err != nil {
			return "", err
		}
		n, err := arr.Push(value)
		if err != nil {
			return "", err
		}
		return "length " + strconv.Itoa(n), nil

	case "set":
		parts := splitArgs(line, 4)
		if len(parts) < 4 {
			return "", errors.New("usage: set <root> <key> <json>")
		}
		target, err := container(store, parts[1])
		if err != nil {
			return "", err
		}
		value, err := decodeValue(parts[3])
		if err != nil {
			return "", err
		}
		return "", target.Set(parts[2], value)

	case "del":
		if len(fields) != 3 {
			return "", errors.New("usage: del <root> <key>")
		}
		target, err := container(store, fields[1])
		if err != nil {
			return "", err
		}
		deleted, err := target.Delete(fields[2])
		if err != nil {
			return "", err
		}
		if !deleted {
			return "", errors.Errorf("%s has no %s", fields[1], fields[2])
		}
		return "", nil
	}
	return "", errors.Errorf("unknown command %q", fields[0])
}

func container(store *view.ObjectView, root string) (view.Indexable, error) {
	if arr, ok := store.Array(root); ok {
		return arr, nil
	}
	if obj, ok := store.Child(root); ok {
		return obj, nil
	}
	return nil, errors.Errorf("%s is not an array or object", root)
}

func decodeValue(text string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, errors.Wrap(err, "invalid JSON value")
	}
	return value, nil
}

// splitArgs splits line into at most n words; the last one keeps its spaces.
func splitArgs(line string, n int) []string {
	var parts []string
	rest := strings.TrimSpace(line)
	for len(parts) < n-1 && rest != "" {
		word, tail, _ := strings.Cut(rest, " ")
		parts = append(parts, word)
		rest = strings.TrimSpace(tail)
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
