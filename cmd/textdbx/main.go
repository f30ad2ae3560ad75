package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/VochanecA/TextDBX/internal/config"
	"github.com/VochanecA/TextDBX/internal/engine"
	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/filter"
	"github.com/VochanecA/TextDBX/internal/query"
	"github.com/VochanecA/TextDBX/internal/record"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: textdbx <config-path> <command> <args...>")
		os.Exit(1)
	}

	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		fail(errs.Wrap(errs.KindConfig, "read configuration file", err))
	}

	cfg, err := config.Load(raw, logger)
	if err != nil {
		fail(err)
	}

	e, err := engine.New(cfg, afero.NewOsFs(), logger)
	if err != nil {
		fail(err)
	}

	command := os.Args[2]
	args := os.Args[3:]

	result, err := dispatch(e, command, args)
	if err != nil {
		fail(err)
	}

	if result != nil {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fail(errs.Wrap(errs.KindValidation, "encode result", err))
		}
		fmt.Println(string(out))
	}
	os.Exit(0)
}

func dispatch(e *engine.Engine, command string, args []string) (interface{}, error) {
	switch command {
	case "query":
		collection, f, err := collectionAndFilter(args)
		if err != nil {
			return nil, err
		}
		return e.Query(collection, query.Options{Filter: f})

	case "insert":
		if len(args) != 2 {
			return nil, errs.New(errs.KindValidation, "insert requires <collection> <record-json>")
		}
		rec, err := decodeRecord(args[1])
		if err != nil {
			return nil, err
		}
		return nil, e.Insert(args[0], rec)

	case "update":
		if len(args) != 3 {
			return nil, errs.New(errs.KindValidation, "update requires <collection> <filter-json> <changes-json>")
		}
		f, err := decodeFilter(args[1])
		if err != nil {
			return nil, err
		}
		changes, err := decodeRecord(args[2])
		if err != nil {
			return nil, err
		}
		n, err := e.Update(args[0], f, changes)
		return map[string]int{"modified": n}, err

	case "delete":
		collection, f, err := collectionAndFilter(args)
		if err != nil {
			return nil, err
		}
		n, err := e.Delete(collection, f)
		return map[string]int{"removed": n}, err

	case "index":
		if len(args) != 2 {
			return nil, errs.New(errs.KindValidation, "index requires <collection> <field>")
		}
		return nil, e.BuildIndex(args[0], args[1])

	default:
		return nil, errs.New(errs.KindValidation, "unknown command "+command)
	}
}

func collectionAndFilter(args []string) (string, filter.Filter, error) {
	if len(args) != 2 {
		return "", nil, errs.New(errs.KindValidation, "requires <collection> <filter-json>")
	}
	f, err := decodeFilter(args[1])
	return args[0], f, err
}

func decodeFilter(arg string) (filter.Filter, error) {
	var f filter.Filter
	if err := json.Unmarshal([]byte(arg), &f); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "parse filter JSON", err)
	}
	return f, nil
}

func decodeRecord(arg string) (record.Record, error) {
	var r record.Record
	if err := json.Unmarshal([]byte(arg), &r); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "parse record JSON", err)
	}
	return r, nil
}

func fail(err error) {
	if engineErr, ok := err.(*errs.Error); ok {
		fmt.Fprintf(os.Stderr, "%s: %s\n", engineErr.Kind, engineErr.Message)
	} else {
		fmt.Fprintln(os.Stderr, err.Error())
	}
	os.Exit(1)
}
