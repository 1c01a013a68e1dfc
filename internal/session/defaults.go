package session

import "github.com/shuklalaw/sitecms/internal/content"

// defaults are the documents the admin panel starts from before a section has
// ever been saved. List sections hold their items under a named array.
var defaults = map[string]content.Document{
	"hero": {
		"title":    "Shukla & Shukla Associates",
		"subtitle": "Professional legal services with integrity and excellence. We provide comprehensive legal solutions across all practice areas.",
		"cta":      "Get Legal Consultation",
		"bgColor":  "#f8f9fa",
	},
	"about": {
		"title":   "About Our Firm",
		"content": "<p>Shukla & Shukla Associates is a distinguished law firm based in Indore, Madhya Pradesh.</p>",
		"stats": map[string]any{
			"years": "15+",
			"cases": "500+",
			"focus": "100%",
		},
	},
	"founders":      {"founders": []any{}},
	"practiceAreas": {"practiceAreas": []any{}},
	"blog":          {"blogPosts": []any{}},
	"gallery":       {"galleryItems": []any{}},
	"reviews":       {"reviews": []any{}},
	"faq":           {"faqs": []any{}},
	"contact": {
		"phone":   "",
		"email":   "",
		"address": "Indore, Madhya Pradesh",
		"hours":   "Monday - Friday: 9:00 AM - 6:00 PM",
	},
	"settings": {
		"siteTitle":       "Shukla & Shukla Associates",
		"siteDescription": "Professional legal services with integrity and excellence.",
		"primaryColor":    "#000000",
		"secondaryColor":  "#ffffff",
		"metaKeywords":    "law firm, legal services, corporate law, criminal defense, family law",
		"analyticsId":     "",
	},
}

// DefaultDocument returns a fresh copy of the starting document for section,
// or an empty document for sections without one.
func DefaultDocument(section string) content.Document {
	if doc, ok := defaults[section]; ok {
		return doc.Clone()
	}
	return content.Document{}
}
