/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aspnet/AspLabs-sub007/internal/eventsource"
	"github.com/aspnet/AspLabs-sub007/internal/protocol"
)

var errInvalidProvider = errors.New("invalid provider")

// providerSpec describes an event source the monitor wants to enable.
// Level and keywords are kept as text so that both names and numbers can be used.
type providerSpec struct {
	Name      string            `yaml:"name"`
	Level     string            `yaml:"level,omitempty"`
	Keywords  string            `yaml:"keywords,omitempty"`
	Arguments map[string]string `yaml:"arguments,omitempty"`
}

type providersFile struct {
	Providers []providerSpec `yaml:"providers"`
}

// parseProviderFlag parses Name[:level[:keywords]].
func parseProviderFlag(value string) (protocol.EnableRequest, error) {
	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return protocol.EnableRequest{}, fmt.Errorf("%w '%s': expected Name[:level[:keywords]]", errInvalidProvider, value)
	}

	spec := providerSpec{Name: parts[0]}
	if len(parts) > 1 {
		spec.Level = parts[1]
	}
	if len(parts) > 2 {
		spec.Keywords = parts[2]
	}
	return spec.toRequest()
}

func (ps providerSpec) toRequest() (protocol.EnableRequest, error) {
	name := strings.TrimSpace(ps.Name)
	if name == "" {
		return protocol.EnableRequest{}, fmt.Errorf("%w: provider name is empty", errInvalidProvider)
	}

	level := eventsource.Verbose
	if strings.TrimSpace(ps.Level) != "" {
		var levelErr error
		if level, levelErr = eventsource.ParseLevel(ps.Level); levelErr != nil {
			return protocol.EnableRequest{}, fmt.Errorf("%w '%s': %w", errInvalidProvider, name, levelErr)
		}
	}

	keywords, keywordsErr := eventsource.ParseKeywords(ps.Keywords)
	if keywordsErr != nil {
		return protocol.EnableRequest{}, fmt.Errorf("%w '%s': %w", errInvalidProvider, name, keywordsErr)
	}

	req := protocol.EnableRequest{
		ProviderName: name,
		Level:        uint8(level),
		Keywords:     uint64(keywords),
	}

	keys := make([]string, 0, len(ps.Arguments))
	for k := range ps.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Arguments = append(req.Arguments, protocol.Argument{Key: k, Value: ps.Arguments[k]})
	}

	return req, nil
}

func parseProvidersYAML(data []byte) ([]protocol.EnableRequest, error) {
	var pf providersFile
	if unmarshalErr := yaml.Unmarshal(data, &pf); unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidProvider, unmarshalErr)
	}

	reqs := make([]protocol.EnableRequest, 0, len(pf.Providers))
	for _, ps := range pf.Providers {
		req, reqErr := ps.toRequest()
		if reqErr != nil {
			return nil, reqErr
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func loadProvidersFile(path string) ([]protocol.EnableRequest, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("could not read providers file: %w", readErr)
	}
	return parseProvidersYAML(data)
}
