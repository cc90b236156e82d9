package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/payroll/pkg/engine"
)

// mergeBundles merges the bundles of one tenant in source order.
func mergeBundles(bundles []*Bundle) ([]*Bundle, []ValidationError) {
	var merged []*Bundle
	byTenant := make(map[string]*Bundle)
	var errs []ValidationError
	for _, b := range bundles {
		id := b.Tenant.Identifier
		target, ok := byTenant[id]
		if !ok || id == "" {
			byTenant[id] = b
			merged = append(merged, b)
			continue
		}
		for _, conflict := range mergeTenant(&target.Tenant, &b.Tenant) {
			errs = append(errs, ValidationError{
				Path:     "tenant." + conflict,
				Message:  fmt.Sprintf("conflicting %s for tenant %s", conflict, id),
				Severity: "error",
			})
		}
		target.Calendars = append(target.Calendars, b.Calendars...)
		target.Divisions = append(target.Divisions, b.Divisions...)
		target.Employees = append(target.Employees, b.Employees...)
		target.Regulations = append(target.Regulations, b.Regulations...)
		target.Payrolls = append(target.Payrolls, b.Payrolls...)
		target.Payruns = append(target.Payruns, b.Payruns...)
		target.CaseValues = append(target.CaseValues, b.CaseValues...)
		target.Shares = append(target.Shares, b.Shares...)
	}
	return merged, errs
}

// mergeTenant fills unset tenant settings and returns the names of the
// settings both sides set differently.
func mergeTenant(into, from *engine.Tenant) []string {
	var conflicts []string
	merge := func(name string, dst *string, src string) {
		switch {
		case src == "" || *dst == src:
		case *dst == "":
			*dst = src
		default:
			conflicts = append(conflicts, name)
		}
	}
	merge("culture", &into.Culture, from.Culture)
	merge("calendar", &into.Calendar, from.Calendar)
	for k, v := range from.Attributes {
		if into.Attributes == nil {
			into.Attributes = make(map[string]interface{})
		}
		if _, ok := into.Attributes[k]; !ok {
			into.Attributes[k] = v
		}
	}
	return conflicts
}

// check validates a merged bundle: struct tags, unique names and references.
func (p *Parser) check(b *Bundle) []ValidationError {
	c := &checker{tenant: b.Tenant.Identifier}
	c.structErr("", p.validator.Struct(b))

	calendars := c.names("calendars", len(b.Calendars), func(i int) string { return b.Calendars[i].Name })
	divisions := c.names("divisions", len(b.Divisions), func(i int) string { return b.Divisions[i].Name })
	employees := c.names("employees", len(b.Employees), func(i int) string { return b.Employees[i].Identifier })
	regulations := c.names("regulations", len(b.Regulations), func(i int) string { return b.Regulations[i].Name })
	payrolls := c.names("payrolls", len(b.Payrolls), func(i int) string { return b.Payrolls[i].Name })
	c.names("payruns", len(b.Payruns), func(i int) string { return b.Payruns[i].Name })

	calendarRef := func(path, name string) {
		if name != "" && !calendars[name] {
			c.warn(path, fmt.Sprintf("unknown calendar %s, the default calendar applies", name))
		}
	}
	calendarRef("tenant.calendar", b.Tenant.Calendar)
	for i, d := range b.Divisions {
		calendarRef(fmt.Sprintf("divisions[%d].calendar", i), d.Calendar)
	}
	for i, e := range b.Employees {
		calendarRef(fmt.Sprintf("employees[%d].calendar", i), e.Calendar)
		for j, d := range e.Divisions {
			if !divisions[d] {
				c.add(fmt.Sprintf("employees[%d].divisions[%d]", i, j), "unknown division "+d)
			}
		}
	}

	for i, r := range b.Regulations {
		path := fmt.Sprintf("regulations[%d]", i)
		r.Objects.Each(func(kind engine.ObjectKind, obj engine.Derivable) {
			c.structErr(fmt.Sprintf("%s.objects.%s(%s)", path, kind, obj.Key()), p.validator.Struct(obj))
		})
	}

	for i, pr := range b.Payrolls {
		path := fmt.Sprintf("payrolls[%d]", i)
		if !divisions[pr.Division] {
			c.add(path+".division", "unknown division "+pr.Division)
		}
		for j, l := range pr.Layers {
			if l.RegulationTenant == "" && !regulations[l.RegulationName] {
				c.add(fmt.Sprintf("%s.layers[%d].regulationName", path, j), "unknown regulation "+l.RegulationName)
			}
		}
	}
	for i, pr := range b.Payruns {
		if !payrolls[pr.Payroll] {
			c.add(fmt.Sprintf("payruns[%d].payroll", i), "unknown payroll "+pr.Payroll)
		}
	}

	for i, v := range b.CaseValues {
		path := fmt.Sprintf("caseValues[%d]", i)
		switch v.Tier {
		case engine.TierEmployee:
			if !employees[v.Employee] {
				c.add(path+".employee", "unknown employee "+v.Employee)
			}
		case engine.TierCompany:
			if !divisions[v.Division] {
				c.add(path+".division", "unknown division "+v.Division)
			}
		case engine.TierNational, engine.TierGlobal:
		default:
			c.add(path+".tier", fmt.Sprintf("invalid tier %q", v.Tier))
		}
		if _, err := v.Native(); err != nil {
			c.add(path+".value", fmt.Sprintf("invalid %s value %q", v.ValueType, v.Value))
		}
		if v.Start != nil && v.End != nil && !v.Start.Before(*v.End) {
			c.add(path+".end", "end is not after start")
		}
	}

	for i, s := range b.Shares {
		if !regulations[s.Regulation] {
			c.add(fmt.Sprintf("shares[%d].regulation", i), "unknown regulation "+s.Regulation)
		}
	}
	return c.errs
}

type checker struct {
	tenant string
	errs   []ValidationError
}

func (c *checker) add(path, message string) {
	c.errs = append(c.errs, ValidationError{Path: c.prefix(path), Message: message, Severity: "error"})
}

func (c *checker) warn(path, message string) {
	c.errs = append(c.errs, ValidationError{Path: c.prefix(path), Message: message, Severity: "warning"})
}

func (c *checker) prefix(path string) string {
	if c.tenant == "" {
		return path
	}
	return c.tenant + ":" + path
}

// structErr reports validator field errors.
func (c *checker) structErr(path string, err error) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		c.add(path, err.Error())
		return
	}
	for _, fe := range fieldErrs {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		if path != "" {
			ns = path + "." + ns
		}
		c.add(ns, fmt.Sprintf("failed on %s", fe.Tag()))
	}
}

// names indexes unique names and reports duplicates and blanks.
func (c *checker) names(path string, n int, name func(int) string) map[string]bool {
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		v := name(i)
		if v == "" {
			continue
		}
		if seen[v] {
			c.add(fmt.Sprintf("%s[%d]", path, i), "duplicate name "+v)
		}
		seen[v] = true
	}
	return seen
}
