package config

import (
	yaml "gopkg.in/yaml.v3"
)

// preserveComments lays the freshly marshaled configuration document in next
// over the document previously saved to disk in prev, keeping the comments,
// key order and scalar styles of the file the user may have edited by hand.
// An error means one of the two documents did not parse, the caller should
// fall back to writing the plain marshal.
func preserveComments(prev, next []byte) ([]byte, error) {
	var disk, fresh yaml.Node
	if err := yaml.Unmarshal(prev, &disk); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(next, &fresh); err != nil {
		return nil, err
	}
	graft(&disk, &fresh)
	return yaml.Marshal(&disk)
}

// graft copies the values of src into dst without touching the comments or
// key order that dst carries. Nodes only dst knows about are left alone.
func graft(dst, src *yaml.Node) {
	// Unmarshaling into a Node yields a document wrapper around the real root.
	if dst.Kind == yaml.DocumentNode && src.Kind == yaml.DocumentNode {
		if len(dst.Content) > 0 && len(src.Content) > 0 {
			graft(dst.Content[0], src.Content[0])
		}
		return
	}
	switch {
	case dst.Kind == yaml.MappingNode && src.Kind == yaml.MappingNode:
		graftMapping(dst, src)
	case dst.Kind == yaml.SequenceNode && src.Kind == yaml.SequenceNode:
		// Sequence entries carry no identity to match old comments against,
		// take the new elements wholesale.
		dst.Content = src.Content
	case dst.Kind == yaml.ScalarNode && src.Kind == yaml.ScalarNode:
		// Leaving Style alone keeps user quoting intact, the encoder falls
		// back on its own when a style cannot represent the new value.
		dst.Value = src.Value
		dst.Tag = src.Tag
	}
}

// graftMapping merges two mapping nodes key by key. Keys present in both get
// their value grafted in place, keys only the old file has are kept as the
// user wrote them, and keys the old file lacks are appended in marshal order.
func graftMapping(dst, src *yaml.Node) {
	fresh := make(map[string]*yaml.Node, len(src.Content)/2)
	order := make([]string, 0, len(src.Content)/2)
	for i := 0; i+1 < len(src.Content); i += 2 {
		key := src.Content[i].Value
		fresh[key] = src.Content[i+1]
		order = append(order, key)
	}

	grafted := make(map[string]struct{}, len(fresh))
	for i := 0; i+1 < len(dst.Content); i += 2 {
		key := dst.Content[i].Value
		val, ok := fresh[key]
		if !ok {
			continue
		}
		grafted[key] = struct{}{}
		if dst.Content[i+1].Kind == val.Kind {
			graft(dst.Content[i+1], val)
		} else {
			// The shape of this value changed, the old node cannot carry it.
			dst.Content[i+1] = val
		}
	}

	for _, key := range order {
		if _, ok := grafted[key]; ok {
			continue
		}
		dst.Content = append(dst.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			fresh[key],
		)
	}
}
