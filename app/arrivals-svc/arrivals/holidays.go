package arrivals

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/ca"
)

//transitHolidayCalendar holds the statutory holidays observed by the transit agency
type transitHolidayCalendar struct {
	calendar *cal.BusinessCalendar
}

//makeTransitHolidayCalendar builds transitHolidayCalendar with Ontario statutory holidays
func makeTransitHolidayCalendar() *transitHolidayCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		ca.NewYear,
		ca.GoodFriday,
		ca.VictoriaDay,
		ca.CanadaDay,
		ca.LabourDay,
		ca.ThanksgivingDay,
		ca.ChristmasDay,
		ca.BoxingDay,
	)
	return &transitHolidayCalendar{calendar: calendar}
}

//isHoliday returns true if at is on an observed holiday
func (t *transitHolidayCalendar) isHoliday(at time.Time) bool {
	_, observed, _ := t.calendar.IsHoliday(at)
	return observed
}
