package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/cart-recovery/internal/model"
)

func (s *Store) AddAccount(a model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Store) AddFlow(f model.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
}

func (s *Store) AddStep(st model.FlowStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[st.ID] = st
}

func (s *Store) AddConnection(c model.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.ID] = c
}

func (s *Store) AddInstance(inst model.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst.Connection = model.Connection{}
	s.instances[inst.ID] = inst
}

func (s *Store) SetInstanceStatus(id string, status model.InstanceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[id]; ok {
		inst.Status = status
		s.instances[id] = inst
	}
}

// Seed is the JSON document accepted by LoadSeed.
type Seed struct {
	Accounts []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		WebhookToken string `json:"webhookToken"`
		Flows        []struct {
			ID       string             `json:"id"`
			Name     string             `json:"name"`
			Status   model.FlowStatus   `json:"status"`
			Settings model.FlowSettings `json:"settings"`
			Steps    []struct {
				DelayHours int    `json:"delayHours"`
				Content    string `json:"content"`
			} `json:"steps"`
		} `json:"flows"`
		Instances []struct {
			ID          string               `json:"id"`
			Name        string               `json:"name"`
			Status      model.InstanceStatus `json:"status"`
			Type        model.TransportType  `json:"type"`
			Credentials map[string]string    `json:"credentials"`
		} `json:"instances"`
	} `json:"accounts"`
}

// LoadSeed populates a fresh store from a JSON seed file. Steps are numbered
// in file order.
func LoadSeed(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	s := New()
	now := time.Now().UTC()
	for _, a := range seed.Accounts {
		accountID := orNewID(a.ID)
		s.AddAccount(model.Account{ID: accountID, Name: a.Name, WebhookToken: a.WebhookToken, CreatedAt: now})

		for i, f := range a.Flows {
			flowID := orNewID(f.ID)
			s.AddFlow(model.Flow{
				ID:        flowID,
				AccountID: accountID,
				Name:      f.Name,
				Status:    f.Status,
				Settings:  f.Settings,
				CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
				UpdatedAt: now,
			})
			for order, st := range f.Steps {
				s.AddStep(model.FlowStep{
					ID:            uuid.NewString(),
					FlowID:        flowID,
					SequenceOrder: order,
					DelayHours:    st.DelayHours,
					Content:       st.Content,
					CreatedAt:     now,
				})
			}
		}

		for _, in := range a.Instances {
			if !in.Type.Valid() {
				return nil, fmt.Errorf("instance %q: unknown transport type %q", in.Name, in.Type)
			}
			connID := uuid.NewString()
			s.AddConnection(model.Connection{
				ID:          connID,
				AccountID:   accountID,
				Type:        in.Type,
				Credentials: in.Credentials,
				CreatedAt:   now,
			})
			s.AddInstance(model.Instance{
				ID:           orNewID(in.ID),
				AccountID:    accountID,
				ConnectionID: connID,
				Name:         in.Name,
				Status:       in.Status,
				CreatedAt:    now,
			})
		}
	}
	return s, nil
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
