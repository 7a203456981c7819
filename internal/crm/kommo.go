package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// Custom field names and codes read from Kommo entities.
const (
	FieldDeliveryAddress = "Delivery address"
	FieldPaymentTerms    = "Payment Terms"
	FieldPayment         = "Payment"
	FieldDepositAmount   = "Deposit Amount"
	FieldDiscount        = "Discount"
	FieldTRN             = "TRN"
	FieldSKU             = "SKU"
	FieldProductDetails  = "Product Details"
	FieldPrice           = "Price (AED)"
	FieldUnit            = "Unit"

	codeEmail = "EMAIL"
)

type customField struct {
	FieldName string       `json:"field_name"`
	FieldCode string       `json:"field_code"`
	Values    []fieldValue `json:"values"`
}

// fieldValue accepts both {"value": x} objects and bare scalars.
type fieldValue string

func (v *fieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*v = ""
	case data[0] == '{':
		var wrapped struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		if wrapped.Value == nil {
			*v = ""
			return nil
		}
		return v.UnmarshalJSON(wrapped.Value)
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = fieldValue(s)
	default:
		*v = fieldValue(data)
	}
	return nil
}

type customFields []customField

func (fields customFields) byName(name string) string {
	for _, f := range fields {
		if f.FieldName == name && len(f.Values) > 0 {
			return string(f.Values[0])
		}
	}
	return ""
}

func (fields customFields) byCode(code string) string {
	for _, f := range fields {
		if f.FieldCode == code && len(f.Values) > 0 {
			return string(f.Values[0])
		}
	}
	return ""
}

func (fields customFields) toMap() map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		if f.FieldName != "" && len(f.Values) > 0 {
			m[f.FieldName] = string(f.Values[0])
		}
	}
	return m
}

type tag struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type lead struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	StatusID     int64        `json:"status_id"`
	CustomFields customFields `json:"custom_fields_values"`
	Embedded     struct {
		Tags     []tag `json:"tags"`
		Contacts []struct {
			ID int64 `json:"id"`
		} `json:"contacts"`
		CatalogElements []struct {
			ID       int64 `json:"id"`
			Metadata struct {
				CatalogID int64   `json:"catalog_id"`
				Quantity  float64 `json:"quantity"`
			} `json:"metadata"`
		} `json:"catalog_elements"`
	} `json:"_embedded"`
}

func (l lead) toCandidate() models.CandidateRecord {
	c := models.CandidateRecord{
		ID:       strconv.FormatInt(l.ID, 10),
		Name:     l.Name,
		StatusID: strconv.FormatInt(l.StatusID, 10),
		Fields:   l.CustomFields.toMap(),
	}
	for _, t := range l.Embedded.Tags {
		c.Tags = append(c.Tags, t.Name)
	}
	for _, ct := range l.Embedded.Contacts {
		c.ContactIDs = append(c.ContactIDs, strconv.FormatInt(ct.ID, 10))
	}
	for _, el := range l.Embedded.CatalogElements {
		c.Products = append(c.Products, models.ProductRef{
			CatalogID: strconv.FormatInt(el.Metadata.CatalogID, 10),
			ElementID: strconv.FormatInt(el.ID, 10),
			Quantity:  el.Metadata.Quantity,
		})
	}
	return c
}

type leadsPage struct {
	Embedded struct {
		Leads []lead `json:"leads"`
	} `json:"_embedded"`
	Links map[string]json.RawMessage `json:"_links"`
}

type contact struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	CustomFields customFields `json:"custom_fields_values"`
}

type catalogElement struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	CustomFields customFields `json:"custom_fields_values"`
}

// ListCandidates returns every lead in the selected pipeline status. Paging
// stops on an empty page, a missing next link, or after MaxPages pages.
func (c *KommoClient) ListCandidates(ctx context.Context, criteria models.SelectionCriteria) ([]models.CandidateRecord, error) {
	if criteria.StatusID == "" || criteria.PipelineID == "" {
		return nil, fmt.Errorf("selection needs both a pipeline and a status id, got pipeline %q status %q",
			criteria.PipelineID, criteria.StatusID)
	}

	var candidates []models.CandidateRecord

	for page := 1; page <= c.maxPages; page++ {
		query := url.Values{}
		query.Set("filter[pipeline_id]", criteria.PipelineID)
		query.Set("filter[statuses][0][pipeline_id]", criteria.PipelineID)
		query.Set("filter[statuses][0][status_id]", criteria.StatusID)
		query.Set("with", "contacts,catalog_elements,tags")
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(page))

		code, data, err := c.do(ctx, http.MethodGet, "/api/v4/leads", query, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list leads (page %d): %w", page, err)
		}
		if code == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
			break
		}

		var resp leadsPage
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode leads page %d: %w", page, err)
		}
		if len(resp.Embedded.Leads) == 0 {
			break
		}
		for _, l := range resp.Embedded.Leads {
			candidates = append(candidates, l.toCandidate())
		}

		if _, ok := resp.Links["next"]; !ok {
			break
		}
	}

	slog.Info("Listed CRM candidates.", "statusId", criteria.StatusID, "count", len(candidates))
	return candidates, nil
}

// FetchRelated resolves the first linked contact and the catalog elements of
// a candidate. A candidate without contacts yields a nil Contact; products
// that no longer exist in the catalog are left out.
func (c *KommoClient) FetchRelated(ctx context.Context, candidate models.CandidateRecord) (*models.RelatedEntities, error) {
	related := &models.RelatedEntities{}

	if len(candidate.ContactIDs) > 0 {
		var ct contact
		if err := c.getJSON(ctx, "/api/v4/contacts/"+candidate.ContactIDs[0], nil, &ct); err != nil {
			return nil, fmt.Errorf("failed to fetch contact %s: %w", candidate.ContactIDs[0], err)
		}
		related.Contact = &models.Contact{
			ID:    strconv.FormatInt(ct.ID, 10),
			Name:  ct.Name,
			Email: strings.TrimSpace(ct.CustomFields.byCode(codeEmail)),
			TRN:   ct.CustomFields.byName(FieldTRN),
		}
	}

	for _, ref := range candidate.Products {
		if ref.CatalogID == "" || ref.CatalogID == "0" || ref.ElementID == "" {
			continue
		}
		var el catalogElement
		path := fmt.Sprintf("/api/v4/catalogs/%s/elements/%s", ref.CatalogID, ref.ElementID)
		err := c.getJSON(ctx, path, nil, &el)
		if errors.Is(err, ErrNotFound) {
			slog.Warn("Catalog element not found, leaving it out.", "candidateId", candidate.ID, "elementId", ref.ElementID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch catalog element %s: %w", ref.ElementID, err)
		}

		quantity := ref.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		related.Products = append(related.Products, models.Product{
			ID:       strconv.FormatInt(el.ID, 10),
			Name:     el.Name,
			SKU:      el.CustomFields.byName(FieldSKU),
			Details:  el.CustomFields.byName(FieldProductDetails),
			Price:    el.CustomFields.byName(FieldPrice),
			Unit:     el.CustomFields.byName(FieldUnit),
			Quantity: quantity,
		})
	}

	return related, nil
}

// MarkProcessed adds marker to the lead's tags, keeping the existing ones.
func (c *KommoClient) MarkProcessed(ctx context.Context, candidateID, marker string) error {
	path := "/api/v4/leads/" + candidateID

	var current lead
	if err := c.getJSON(ctx, path, nil, &current); err != nil {
		return fmt.Errorf("failed to read tags of lead %s: %w", candidateID, err)
	}

	tags := make([]tag, 0, len(current.Embedded.Tags)+1)
	for _, t := range current.Embedded.Tags {
		if strings.EqualFold(strings.TrimSpace(t.Name), strings.TrimSpace(marker)) {
			return nil
		}
		if t.ID != 0 {
			tags = append(tags, tag{ID: t.ID})
		} else if t.Name != "" {
			tags = append(tags, tag{Name: t.Name})
		}
	}
	tags = append(tags, tag{Name: marker})

	body := map[string]any{
		"_embedded": map[string]any{"tags": tags},
	}
	if _, _, err := c.do(ctx, http.MethodPatch, path, nil, body); err != nil {
		return fmt.Errorf("failed to tag lead %s: %w", candidateID, err)
	}
	return nil
}
