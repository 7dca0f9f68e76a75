package main

import (
	"fmt"

	"github.com/trickstertwo/xledger"
)

// platformRegistry builds the schema registry for the platform event kinds
// that have evolved past their first version.
func platformRegistry() (*xledger.SchemaRegistry, error) {
	r := xledger.NewSchemaRegistry()

	steps := []struct {
		kind    string
		version int
		fn      xledger.UpcastFunc
		desc    string
		opts    []xledger.VersionOption
	}{
		{xledger.KindCreditAllocated, 1, nil, "initial shape", nil},
		{xledger.KindCreditAllocated, 2, creditAllocatedV2, "add metadata object", nil},
		{xledger.KindMissionCompleted, 1, nil, "initial shape", nil},
		{
			xledger.KindMissionCompleted, 2, missionCompletedV2,
			"fold outcome/detail into result",
			[]xledger.VersionOption{xledger.Supersedes("outcome", "detail")},
		},
	}
	for _, s := range steps {
		if err := r.RegisterVersion(s.kind, s.version, s.fn, s.desc, s.opts...); err != nil {
			return nil, fmt.Errorf("register %s v%d: %w", s.kind, s.version, err)
		}
	}
	return r, nil
}

func creditAllocatedV2(p map[string]any) (map[string]any, error) {
	if _, ok := p["metadata"]; !ok {
		p["metadata"] = map[string]any{}
	}
	return p, nil
}

func missionCompletedV2(p map[string]any) (map[string]any, error) {
	result := map[string]any{}
	if v, ok := p["outcome"]; ok {
		result["outcome"] = v
		delete(p, "outcome")
	}
	if v, ok := p["detail"]; ok {
		result["detail"] = v
		delete(p, "detail")
	}
	p["result"] = result
	return p, nil
}
